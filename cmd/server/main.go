package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"autoflow/internal/config"
	"autoflow/internal/observability"
	"autoflow/internal/server"
	"autoflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	// 允许通过 flags/env 覆盖数据库与监听地址
	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.StringVar(&cfg.Database.DSN, "dsn", getenvDefault("DB_DSN", cfg.Database.DSN), "Postgres DSN, if set overrides other DB flags")
	flagSet.StringVar(&cfg.Database.Host, "db-host", getenvDefault("DB_HOST", cfg.Database.Host), "database host")
	flagSet.IntVar(&cfg.Database.Port, "db-port", getenvInt("DB_PORT", cfg.Database.Port), "database port")
	flagSet.StringVar(&cfg.Database.User, "db-user", getenvDefault("DB_USER", cfg.Database.User), "database user")
	flagSet.StringVar(&cfg.Database.Password, "db-pass", getenvDefault("DB_PASSWORD", cfg.Database.Password), "database password")
	flagSet.StringVar(&cfg.Database.Name, "db-name", getenvDefault("DB_NAME", cfg.Database.Name), "database name")
	flagSet.StringVar(&cfg.Server.Host, "host", getenvDefault("AUTOFLOW_HOST", cfg.Server.Host), "server host (listen)")
	flagSet.IntVar(&cfg.Server.Port, "port", getenvInt("AUTOFLOW_PORT", cfg.Server.Port), "server port (listen)")
	_ = flagSet.Parse(os.Args[1:])

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := server.OpenDatabase(cfg, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to open database: %v", err)
	}

	engine := services.NewEngine(db, cfg.Automation, appLogger, services.SystemClock())

	// 启动定时规则扫描
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Worker.Start(ctx)

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := server.NewRouter(cfg, db, engine)

	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), Handler: r}
	go func() {
		appLogger.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
