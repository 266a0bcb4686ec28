package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Database   struct {
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Gateway struct {
		BaseURL string        `mapstructure:"BASE_URL"`
		APIKey  string        `mapstructure:"API_KEY"`
		Timeout time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"PAYMENT_GATEWAY"`
	Payments struct {
		PlatformFeeRate string        `mapstructure:"PLATFORM_FEE_RATE"`
		StuckAfter      time.Duration `mapstructure:"STUCK_AFTER"`
	} `mapstructure:"PAYMENTS"`
	Withdrawals struct {
		Methods map[string]WithdrawalMethodLimit `mapstructure:"METHODS"`
	} `mapstructure:"WITHDRAWALS"`
	Contracts struct {
		MaxRevisions int `mapstructure:"MAX_REVISIONS"`
	} `mapstructure:"CONTRACTS"`
	Penalties struct {
		SuspensionDays  int `mapstructure:"SUSPENSION_DAYS"`
		OverdueGraceDay int `mapstructure:"OVERDUE_GRACE_DAYS"`
		OverdueLimit    int `mapstructure:"OVERDUE_LIMIT"`
	} `mapstructure:"PENALTIES"`
}

type WithdrawalMethodLimit struct {
	Min string `mapstructure:"MIN"`
	Max string `mapstructure:"MAX"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "marketplace-core")
	v.SetDefault("PAYMENTS.PLATFORM_FEE_RATE", "0.05")
	v.SetDefault("PAYMENTS.STUCK_AFTER", 72*time.Hour)
	v.SetDefault("CONTRACTS.MAX_REVISIONS", 3)
	v.SetDefault("PENALTIES.SUSPENSION_DAYS", 7)
	v.SetDefault("PENALTIES.OVERDUE_GRACE_DAYS", 7)
	v.SetDefault("PENALTIES.OVERDUE_LIMIT", 2)
	v.SetDefault("PAYMENT_GATEWAY.TIMEOUT", 15*time.Second)
}
