package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"faucet/internal/api"
	"faucet/internal/chain"
	"faucet/internal/claims"
	"faucet/internal/config"
	"faucet/internal/eligibility"
	"faucet/internal/logging"
	"faucet/internal/publish"
	"faucet/internal/reputation"
	"faucet/internal/shutdown"
	"faucet/internal/signer"
	"faucet/internal/stats"
	"faucet/internal/store"
)

var (
	configFile string
	verbose    bool

	// grant 子命令参数
	grantAddress string
	grantNetwork string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "faucet",
		Short:        "测试网水龙头领取网关",
		Long:         `水龙头领取网关：资格判定、领取授权签名、领取记录与统计`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "启动HTTP API服务",
		RunE:  runServe,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "创建PostgreSQL表结构",
		RunE:  runMigrate,
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "输出一次领取统计",
		RunE:  runStats,
	}

	grantCmd := &cobra.Command{
		Use:   "grant",
		Short: "为地址签发领取授权，用于排查签名配置",
		RunE:  runGrant,
	}
	grantCmd.Flags().StringVar(&grantAddress, "address", "", "领取地址")
	grantCmd.Flags().StringVar(&grantNetwork, "network", config.PrimaryNetwork, "网络名称")
	_ = grantCmd.MarkFlagRequired("address")

	rootCmd.AddCommand(serveCmd, migrateCmd, statsCmd, grantCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// setup 加载配置并创建日志器
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("创建日志器失败: %w", err)
	}
	return cfg, logger, nil
}

// openLedger 连接RPC节点并创建链上统计，未配置或连接失败时返回nil
func openLedger(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*chain.Client, stats.LedgerCounter) {
	if cfg.Chain.RPCURL == "" {
		logger.Info("未配置RPC节点，统计只使用存储")
		return nil, nil
	}

	contract := ""
	if primary := cfg.Signer.Primary(); primary != nil {
		contract = primary.ContractAddress
	}
	if contract == "" {
		logger.Warn("未配置合约地址，跳过链上统计")
		return nil, nil
	}

	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.CallTimeout, logger)
	if err != nil {
		logger.WithError(err).Warn("RPC节点不可用，统计只使用存储")
		return nil, nil
	}

	counter, err := chain.NewDripCounter(client, contract, cfg.Chain, logger)
	if err != nil {
		logger.WithError(err).Warn("创建链上统计失败")
		client.Close()
		return nil, nil
	}
	return client, counter
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	gs := shutdown.NewGracefulShutdown(cfg.Server.ShutdownTimeout, logger)

	claimStore, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("创建存储失败: %w", err)
	}
	gs.RegisterCloser("store", claimStore, shutdown.OrderStore)
	logger.WithField("driver", claimStore.Name()).Info("领取记录存储已就绪")

	publisher, err := publish.New(cfg.Kafka, logger)
	if err != nil {
		claimStore.Close()
		return fmt.Errorf("创建消息发布器失败: %w", err)
	}
	gs.RegisterCloser("publisher", publisher, shutdown.OrderPublisher)

	var checker reputation.Checker
	if cfg.Reputation.Enabled() {
		checker = reputation.NewClient(logger, cfg.Reputation)
	} else {
		logger.Warn("未配置声誉API，关注与声誉检查将放行")
	}

	issuer := signer.NewIssuer(cfg.Signer, logger)
	if addr, err := issuer.SignerAddress(); err != nil {
		logger.WithError(err).Warn("签名私钥不可用，签名接口将返回错误")
	} else {
		logger.WithField("signer", addr.Hex()).Info("签名账户已加载")
	}

	chainClient, ledger := openLedger(ctx, cfg, logger)
	if chainClient != nil {
		gs.RegisterCloser("chain", chainClient, shutdown.OrderChainClient)
	}

	server := api.NewServer(&api.Dependencies{
		Config:     cfg,
		Gate:       eligibility.NewGate(claimStore, checker, cfg.Faucet, cfg.Reputation, logger),
		Recorder:   claims.NewRecorder(claimStore, publisher, logger),
		Issuer:     issuer,
		Stats:      stats.NewAggregator(claimStore, ledger, cfg.Stats, logger),
		Reputation: checker,
		Logger:     logger,
	})
	gs.RegisterShutdownFunc("http", server.Shutdown, shutdown.OrderHTTPServer)

	gs.Start()

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("API服务器异常退出")
			gs.Shutdown()
		}
	}()

	return gs.Wait()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.StoreDriverPostgres {
		return fmt.Errorf("当前存储驱动 %s 不需要迁移", cfg.Store.Driver)
	}

	ctx := context.Background()
	pg, err := store.OpenPostgresStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("数据库迁移完成")
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx := context.Background()
	claimStore, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("创建存储失败: %w", err)
	}
	defer claimStore.Close()

	chainClient, ledger := openLedger(ctx, cfg, logger)
	if chainClient != nil {
		defer chainClient.Close()
	}

	result := stats.NewAggregator(claimStore, ledger, cfg.Stats, logger).GetStats(ctx)
	return printJSON(result)
}

func runGrant(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	grant, err := signer.NewIssuer(cfg.Signer, logger).Issue(grantAddress, grantNetwork)
	if err != nil {
		return err
	}
	return printJSON(grant)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
