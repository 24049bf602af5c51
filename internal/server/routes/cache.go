package routes

import (
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-stream/internal/cache"
	"github.com/any-hub/any-stream/internal/loader"
	"github.com/any-hub/any-stream/internal/metrics"
	"github.com/any-hub/any-stream/internal/server"
)

// RegisterDiagnosticsRoutes 暴露 /-/cache、/-/origins 与 /-/metrics 诊断接口。
func RegisterDiagnosticsRoutes(app *fiber.App, registry *server.OriginRegistry, manager *loader.Manager, logger *logrus.Logger) {
	if app == nil || registry == nil || manager == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		size, err := manager.CacheSize()
		if err != nil {
			logger.WithError(err).WithField("action", "cache_size").Warn("cache_size_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_unavailable"})
		}
		return c.JSON(cachePayload{
			Dir:      manager.Dir(),
			Size:     size,
			Sessions: encodeSessions(manager.Sessions()),
		})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		if err := manager.Purge(); err != nil {
			logger.WithError(err).WithField("action", "cache_purge").Warn("cache_purge_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "purge_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/origins", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"origins": encodeOrigins(registry.List())})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

type cachePayload struct {
	Dir      string           `json:"dir"`
	Size     int64            `json:"size"`
	Sessions []sessionPayload `json:"sessions"`
}

type sessionPayload struct {
	URL        string            `json:"url"`
	Downloaded int64             `json:"downloaded"`
	Total      int64             `json:"total"`
	InFlight   int               `json:"in_flight"`
	Fragments  []cache.ByteRange `json:"fragments"`
}

type originPayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Port     int    `json:"port"`
	Upstream string `json:"upstream"`
	Proxy    string `json:"proxy,omitempty"`
	AuthMode string `json:"auth_mode"`
}

func encodeSessions(sessions []*loader.Session) []sessionPayload {
	result := make([]sessionPayload, 0, len(sessions))
	for _, session := range sessions {
		downloaded, total := session.Progress()
		result = append(result, sessionPayload{
			URL:        session.URL(),
			Downloaded: downloaded,
			Total:      total,
			InFlight:   session.InFlight(),
			Fragments:  session.Fragments(),
		})
	}
	return result
}

func encodeOrigins(routes []server.OriginRoute) []originPayload {
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, originPayload{
			Name:     route.Config.Name,
			Domain:   route.Config.Domain,
			Port:     route.ListenPort,
			Upstream: route.Config.Upstream,
			Proxy:    route.Config.Proxy,
			AuthMode: route.Config.AuthMode(),
		})
	}
	return result
}
