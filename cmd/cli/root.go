package cli

import (
	"context"
	"fmt"
	"os"

	"autoflow/internal/config"
	"autoflow/internal/observability"
	"autoflow/internal/server"
	"autoflow/internal/services"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "autoflowctl",
	Short: "Rule-based automation engine",
	Long: `autoflowctl runs the automation HTTP server and exposes the engine
operations (scheduled sweep, single rule execution, event trigger) as commands.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Println("Error reading config file:", err)
		}
	}
}

// appEnv 每个子命令共享的依赖
type appEnv struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *gorm.DB
	engine *services.Engine
	close  func()
}

func bootstrap(ctx context.Context) (*appEnv, error) {
	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	logger := logrus.StandardLogger()

	shutdownOTel, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		logger.Warnf("init tracing: %v", err)
		shutdownOTel = func(context.Context) error { return nil }
	}

	db, err := server.OpenDatabase(cfg, logger)
	if err != nil {
		_ = shutdownOTel(context.Background())
		return nil, err
	}

	rt := &appEnv{
		cfg:    cfg,
		logger: logger,
		db:     db,
		engine: services.NewEngine(db, cfg.Automation, logger, services.SystemClock()),
	}
	rt.close = func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		_ = shutdownOTel(context.Background())
	}
	return rt, nil
}
