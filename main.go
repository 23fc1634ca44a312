package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/currents-hub/currents/internal/cache"
	"github.com/currents-hub/currents/internal/config"
	"github.com/currents-hub/currents/internal/logging"
	"github.com/currents-hub/currents/internal/offline"
	"github.com/currents-hub/currents/internal/partition"
	"github.com/currents-hub/currents/internal/proxy"
	"github.com/currents-hub/currents/internal/server"
	"github.com/currents-hub/currents/internal/server/routes"
	"github.com/currents-hub/currents/internal/version"
)

// 运行模式：edge 为 CORS 边缘路由，shell 为浏览器侧离线缓存层宿主。
const (
	modeEdge  = "edge"
	modeShell = "shell"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	mode        string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	// .env 不存在时忽略。
	_ = godotenv.Load()

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
		reportConfigError(err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global, opts.mode)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if err := requireMode(cfg, opts.mode); err != nil {
		fmt.Fprintf(stdErr, "配置不满足 %s 模式: ", opts.mode)
		reportConfigError(err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["mode"] = opts.mode
		fields["routes"] = config.RouteSummaries(cfg.Routes)
		fields["client_version"] = cfg.Client.Version
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	switch opts.mode {
	case modeShell:
		err = runShell(cfg, opts, logger)
	default:
		err = runEdge(cfg, opts, logger)
	}
	if err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// reportConfigError 对字段级错误单独给出字段名，其余错误原样输出。
func reportConfigError(err error) {
	if fe, ok := config.AsFieldError(err); ok {
		fmt.Fprintf(stdErr, "配置字段 %s 无效: %s\n", fe.Field, fe.Reason)
		return
	}
	fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
}

func requireMode(cfg *config.Config, mode string) error {
	switch mode {
	case modeShell:
		return cfg.RequireClient()
	case modeEdge:
		return cfg.RequireRoutes()
	}
	return fmt.Errorf("未知模式 %q，仅支持 edge|shell", mode)
}

// runEdge 按“配置 → 路由表 → 边缘缓存 → Fiber server”顺序启动 edge 模式。
func runEdge(cfg *config.Config, opts cliOptions, logger *logrus.Logger) error {
	table, err := server.NewRouteTable(cfg)
	if err != nil {
		return fmt.Errorf("构建路由表失败: %w", err)
	}

	store, err := openEdgeCache(cfg.Global)
	if err != nil {
		return fmt.Errorf("初始化边缘缓存失败: %w", err)
	}

	httpClient := server.NewUpstreamClient(cfg)
	proxyHandler := proxy.NewHandler(httpClient, logger, store)
	forwarder := proxy.NewEdgeForwarder(proxyHandler, logger)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["mode"] = modeEdge
	fields["routes"] = config.RouteSummaries(cfg.Routes)
	fields["edge_cache"] = cfg.Global.EdgeCacheBackend
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Routes:     table,
		Proxy:      forwarder,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnostics(app, table)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"mode":   modeEdge,
		"port":   port,
	}).Info("Fiber 服务启动")
	return app.Listen(fmt.Sprintf(":%d", port))
}

// openEdgeCache 根据 EdgeCacheBackend 选择磁盘或 Redis；off 时返回 nil，代理直接回源。
func openEdgeCache(g config.GlobalConfig) (cache.Store, error) {
	switch g.EdgeCacheBackend {
	case config.EdgeCacheOff:
		return nil, nil
	case config.EdgeCacheRedis:
		client := redis.NewClient(&redis.Options{Addr: g.RedisAddr, DB: g.RedisDB})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
		return cache.NewRedisStore(client, "currents"), nil
	default:
		return cache.NewStore(g.StoragePath)
	}
}

// runShell 启动浏览器侧缓存层：首个版本在后台安装，期间请求在就绪门前等待；
// 配置文件中 [Client].Version 变化时安装新版本。
func runShell(cfg *config.Config, opts cliOptions, logger *logrus.Logger) error {
	store, err := partition.OpenLevelStore(cfg.Client.PartitionPath)
	if err != nil {
		return fmt.Errorf("打开分区库失败: %w", err)
	}
	defer store.Close()

	fetcher := offline.NewHTTPFetcher(server.NewUpstreamClient(cfg))
	runtime := offline.NewRuntime(store, fetcher, logger)

	upgrade := func(client config.ClientConfig) {
		if err := runtime.Upgrade(context.Background(), client); err != nil {
			logger.WithFields(logging.BaseFields("client_upgrade", opts.configPath)).
				WithField("client_version", client.Version).
				WithError(err).Error("客户端版本安装失败")
		}
	}

	_, err = config.Watch(opts.configPath, func(next *config.Config) {
		if err := next.RequireClient(); err != nil {
			logger.WithError(err).Warn("忽略缺少 [Client] 的配置变更")
			return
		}
		go upgrade(next.Client)
	}, func(err error) {
		logger.WithFields(logging.BaseFields("config_reload", opts.configPath)).WithError(err).Warn("配置重载失败，沿用旧配置")
	})
	if err != nil {
		return err
	}

	app, err := server.NewShellApp(server.ShellOptions{
		Logger:     logger,
		Runtime:    runtime,
		Origin:     cfg.Client.Origin,
		ListenPort: cfg.Client.ListenPort,
	})
	if err != nil {
		return err
	}
	routes.RegisterRuntime(app)

	go upgrade(cfg.Client)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["mode"] = modeShell
	fields["client_version"] = cfg.Client.Version
	fields["origin"] = cfg.Client.Origin
	fields["partitions"] = cfg.Client.PartitionPath
	fields["listen_port"] = cfg.Client.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	return app.Listen(fmt.Sprintf(":%d", cfg.Client.ListenPort))
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径与模式。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("currents", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		modeFlag   string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CURRENTS_CONFIG 覆盖）")
	fs.StringVar(&modeFlag, "mode", "", "运行模式 edge|shell（默认 edge，可被 CURRENTS_MODE 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CURRENTS_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	mode := os.Getenv("CURRENTS_MODE")
	if modeFlag != "" {
		mode = modeFlag
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = modeEdge
	}
	if mode != modeEdge && mode != modeShell {
		return cliOptions{}, fmt.Errorf("未知模式 %q，仅支持 edge|shell", mode)
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		mode:        mode,
	}, nil
}
