package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-stream/internal/cache"
	"github.com/any-hub/any-stream/internal/config"
	"github.com/any-hub/any-stream/internal/loader"
	"github.com/any-hub/any-stream/internal/logging"
	"github.com/any-hub/any-stream/internal/proxy"
	"github.com/any-hub/any-stream/internal/server"
	"github.com/any-hub/any-stream/internal/server/routes"
	"github.com/any-hub/any-stream/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	cacheSize   bool
	purgeCache  bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["origins"] = len(cfg.Origins)
		fields["credentials"] = config.CredentialModes(cfg.Origins)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.cacheSize || opts.purgeCache {
		return runCacheCommand(cfg, opts, logger)
	}

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Origin 注册表失败: %v\n", err)
		return 1
	}

	// 启动顺序：配置 → OriginRegistry → 回源传输 → 会话管理器 → Fiber server，
	// 所有请求共享同一组会话，同一资源只有一个缓存条目。
	transport := server.NewUpstreamTransport(cfg, registry, logger)
	manager, err := loader.NewManager(loader.ManagerOptions{
		Dir:       cfg.Global.StoragePath,
		Transport: transport,
		Logger:    logger,
		Split: loader.SplitOptions{
			SegmentSize:       cfg.Global.SegmentSize.Int64(),
			RemoteSegmentSize: cfg.Global.RemoteSegmentSize.Int64(),
		},
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化会话管理器失败: %v\n", err)
		return 1
	}
	proxyHandler := proxy.NewHandler(manager, transport, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origins"] = len(cfg.Origins)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["credentials"] = config.CredentialModes(cfg.Origins)
	fields["segment_size"] = cfg.Global.SegmentSize.Int64()
	fields["remote_segment_size"] = cfg.Global.RemoteSegmentSize.Int64()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := startHTTPServer(ctx, cfg, registry, manager, proxyHandler, logger)
	if err := manager.Shutdown(); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("session_shutdown_failed")
	}
	if serveErr != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", serveErr)
		return 1
	}
	return 0
}

// runCacheCommand 执行 -cache-size / -purge-cache 维护命令。
func runCacheCommand(cfg *config.Config, opts cliOptions, logger *logrus.Logger) int {
	dir := cfg.Global.StoragePath
	if opts.purgeCache {
		if err := cache.Purge(dir); err != nil {
			fmt.Fprintf(stdErr, "清空缓存失败: %v\n", err)
			return 1
		}
		fields := logging.BaseFields("purge_cache", opts.configPath)
		fields["dir"] = dir
		logger.WithFields(fields).Info("缓存已清空")
	}
	if opts.cacheSize {
		size, err := cache.DirSize(dir)
		if err != nil {
			fmt.Fprintf(stdErr, "统计缓存失败: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdOut, "%d\t%s\n", size, dir)
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("any-stream", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		cacheSize  bool
		purge      bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ANY_STREAM_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.BoolVar(&cacheSize, "cache-size", false, "输出缓存目录占用的字节数后退出")
	fs.BoolVar(&purge, "purge-cache", false, "清空缓存目录后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ANY_STREAM_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		cacheSize:   cacheSize,
		purgeCache:  purge,
	}, nil
}

// startHTTPServer 阻塞直到监听失败或 ctx 结束；ctx 结束后在超时内优雅关闭。
func startHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	registry *server.OriginRegistry,
	manager *loader.Manager,
	proxyHandler server.ProxyHandler,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, registry, manager, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("Fiber 服务关闭")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
