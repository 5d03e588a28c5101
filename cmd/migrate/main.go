package main

import (
	"flag"

	"autoflow/internal/config"
	"autoflow/internal/server"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	configFile := flag.String("config", "", "config file (default is ./config.yml)")
	dsn := flag.String("dsn", "", "Postgres DSN, overrides the config file")
	flag.Parse()

	if *configFile != "" {
		viper.SetConfigFile(*configFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	// 迁移由下方显式执行
	cfg.Database.AutoMigrate = false
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	log := logrus.StandardLogger()

	db, err := server.OpenDatabase(cfg, log)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := server.Migrate(db, log); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
}
