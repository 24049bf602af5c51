package loader

import (
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/any-stream/internal/cache"
	"github.com/any-hub/any-stream/internal/metrics"
)

// ManagerOptions 配置会话管理器。
type ManagerOptions struct {
	// Dir 是缓存目录，所有资源条目平铺在其中。
	Dir       string
	Transport Transport
	Logger    *logrus.Logger
	Split     SplitOptions
}

// Manager 保证进程内每个资源 URL 只对应一个 Session。
type Manager struct {
	opts   ManagerOptions
	logger *logrus.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	closed   bool
	sessions map[string]*Session
}

// NewManager 创建会话管理器。
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache dir is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		opts:     opts,
		logger:   logger,
		sessions: make(map[string]*Session),
	}, nil
}

// Dir 返回缓存目录。
func (m *Manager) Dir() string {
	return m.opts.Dir
}

// Session 返回 rawURL 对应的会话，首次访问时创建；并发的首次访问只会构建一次。
func (m *Manager) Session(rawURL string) (*Session, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrSessionClosed
	}
	if session, ok := m.sessions[rawURL]; ok {
		m.mu.RUnlock()
		return session, nil
	}
	m.mu.RUnlock()

	value, err, _ := m.group.Do(rawURL, func() (any, error) {
		m.mu.RLock()
		session, ok := m.sessions[rawURL]
		m.mu.RUnlock()
		if ok {
			return session, nil
		}

		session, err := NewSession(m.opts.Dir, rawURL, SessionOptions{
			Transport: m.opts.Transport,
			Logger:    m.logger,
			Split:     m.opts.Split,
		})
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action": "session_open",
				"url":    rawURL,
			}).Warn("session_open_failed")
			return nil, err
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = session.Shutdown()
			return nil, ErrSessionClosed
		}
		m.sessions[rawURL] = session
		count := len(m.sessions)
		m.mu.Unlock()

		metrics.SetSessions(count)
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Session), nil
}

// Sessions 返回当前打开的会话，按 URL 排序。
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		result = append(result, session)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].URL() < result[j].URL()
	})
	return result
}

// CacheSize 返回缓存目录占用的字节数。
func (m *Manager) CacheSize() (int64, error) {
	return cache.DirSize(m.opts.Dir)
}

// Purge 关闭全部会话并清空缓存目录；之后的访问会重新创建会话。
func (m *Manager) Purge() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	err := shutdownAll(sessions)
	metrics.SetSessions(0)
	if purgeErr := cache.Purge(m.opts.Dir); purgeErr != nil {
		return purgeErr
	}
	m.logger.WithFields(logrus.Fields{
		"action":   "cache_purge",
		"dir":      m.opts.Dir,
		"sessions": len(sessions),
	}).Info("cache_purged")
	return err
}

// Shutdown 关闭全部会话，之后不再接受新的访问。
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	metrics.SetSessions(0)
	return shutdownAll(sessions)
}

func shutdownAll(sessions map[string]*Session) error {
	var errs []error
	for _, session := range sessions {
		if err := session.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
