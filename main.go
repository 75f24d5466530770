package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/edgecache/imgcache/internal/config"
	"github.com/edgecache/imgcache/internal/dedupe"
	"github.com/edgecache/imgcache/internal/logging"
	"github.com/edgecache/imgcache/internal/proxy"
	"github.com/edgecache/imgcache/internal/server"
	"github.com/edgecache/imgcache/internal/server/routes"
	"github.com/edgecache/imgcache/internal/stats"
	"github.com/edgecache/imgcache/internal/store"
	"github.com/edgecache/imgcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

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
		fields["sites"] = config.SiteSummaries(cfg.Sites)
		fields["store"] = cfg.Store.Backend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer svc.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sites"] = config.SiteSummaries(cfg.Sites)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store"] = cfg.Store.Backend
	fields["dedupe"] = cfg.Global.Dedupe
	fields["store_failure_mode"] = cfg.Global.StoreFailureMode
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := svc.listen(ctx); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("imgcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMGCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMGCACHE_CONFIG")
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
	}, nil
}

// service 持有一次进程生命周期内共享的 Fiber app 与存储。
type service struct {
	app    *fiber.App
	store  store.Store
	logger *logrus.Logger
	port   int
}

// buildService 按“存储 → SiteRegistry → dedupe/stats → proxy → Fiber app → 诊断路由”顺序装配，
// 所有请求共享同一份存储与上游 client。
func buildService(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}

	registry, err := server.NewSiteRegistry(cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("构建站点注册表失败: %w", err)
	}

	group, err := dedupe.New(cfg.Global.Dedupe, cfg.Global.DedupeLockDir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	recorder := stats.NewRecorder()

	handler, err := proxy.NewHandler(proxy.Options{
		Client:           server.NewUpstreamClient(cfg),
		Logger:           logger,
		Store:            st,
		Dedupe:           group,
		Stats:            recorder,
		StoreFailureMode: cfg.Global.StoreFailureMode,
		MaxObjectSize:    cfg.Global.MaxObjectSize,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	diagnostics := routes.DiagnosticsOptions{
		Registry:     registry,
		Stats:        recorder,
		StoreBackend: cfg.Store.Backend,
	}
	if faulty, ok := st.(*store.Faulty); ok {
		diagnostics.StoreFaults = faulty.Injected
	}
	routes.RegisterDiagnosticsRoutes(app, diagnostics)

	return &service{app: app, store: st, logger: logger, port: cfg.Global.ListenPort}, nil
}

// listen 阻塞直到服务退出；ctx 取消（SIGINT/SIGTERM）时优雅关闭。
func (s *service) listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.app.Shutdown()
	}()

	s.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   s.port,
	}).Info("Fiber 服务启动")

	return s.app.Listen(fmt.Sprintf(":%d", s.port))
}

func (s *service) Close() error {
	return s.store.Close()
}
