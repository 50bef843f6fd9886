package config

import (
	"fmt"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Trade    TradeConfig
	Gateway  GatewayConfig
	Pricing  PricingConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port            string        `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type DatabaseConfig struct {
	URI            string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Name           string        `env:"MONGO_DB" envDefault:"tradebot"`
	ConnectTimeout time.Duration `env:"MONGO_CONNECT_TIMEOUT" envDefault:"10s"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type AuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET,required"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

type TradeConfig struct {
	// BridgeURL points at the trade protocol sidecar.
	BridgeURL string `env:"TRADE_BRIDGE_URL" envDefault:"http://localhost:3131"`
	AppID     int    `env:"TRADE_APP_ID" envDefault:"440"`
	ContextID int    `env:"TRADE_CONTEXT_ID" envDefault:"2"`
	// ClassID identifies the fungible item traded from the inventory pool.
	ClassID       string        `env:"TRADE_CLASS_ID,required"`
	MaxRetries    int           `env:"TRADE_MAX_RETRIES" envDefault:"5"`
	RetryDelay    time.Duration `env:"TRADE_RETRY_DELAY" envDefault:"3s"`
	StockFreshFor time.Duration `env:"TRADE_STOCK_FRESH_FOR" envDefault:"300s"`
}

type GatewayConfig struct {
	BaseURL     string        `env:"GATEWAY_BASE_URL" envDefault:"https://api.nowpayments.io/v1"`
	APIKey      string        `env:"GATEWAY_API_KEY,required"`
	Email       string        `env:"GATEWAY_EMAIL"`
	Password    string        `env:"GATEWAY_PASSWORD"`
	IPNSecret   string        `env:"GATEWAY_IPN_SECRET,required"`
	OTPSecret   string        `env:"GATEWAY_OTP_SECRET"`
	CallbackURL string        `env:"GATEWAY_CALLBACK_URL,required"`
	HTTPTimeout time.Duration `env:"GATEWAY_HTTP_TIMEOUT" envDefault:"30s"`
}

type PricingConfig struct {
	BuyPrice     string `env:"PRICE_BUY" envDefault:"1.80"`
	SellPrice    string `env:"PRICE_SELL" envDefault:"1.50"`
	FeePercent   string `env:"PRICE_FEE_PERCENT" envDefault:"2"`
	MinimumOrder string `env:"PRICE_MINIMUM_ORDER" envDefault:"2.00"`
	MaxStock     int    `env:"PRICE_MAX_STOCK" envDefault:"100"`
}

type WorkerConfig struct {
	StockRefreshInterval    time.Duration `env:"WORKER_STOCK_REFRESH_INTERVAL" envDefault:"50s"`
	WithdrawalSweepInterval time.Duration `env:"WORKER_WITHDRAWAL_SWEEP_INTERVAL" envDefault:"6h"`
	WithdrawalStaleAfter    time.Duration `env:"WORKER_WITHDRAWAL_STALE_AFTER" envDefault:"24h"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Pricing parses the price sheet out of the raw env strings.
func (c PricingConfig) Pricing() (model.Pricing, error) {
	buy, err := decimal.NewFromString(c.BuyPrice)
	if err != nil {
		return model.Pricing{}, fmt.Errorf("invalid buy price %q: %w", c.BuyPrice, err)
	}
	sell, err := decimal.NewFromString(c.SellPrice)
	if err != nil {
		return model.Pricing{}, fmt.Errorf("invalid sell price %q: %w", c.SellPrice, err)
	}
	fee, err := decimal.NewFromString(c.FeePercent)
	if err != nil {
		return model.Pricing{}, fmt.Errorf("invalid fee percent %q: %w", c.FeePercent, err)
	}
	minOrder, err := decimal.NewFromString(c.MinimumOrder)
	if err != nil {
		return model.Pricing{}, fmt.Errorf("invalid minimum order %q: %w", c.MinimumOrder, err)
	}

	return model.Pricing{
		Buy:          buy,
		Sell:         sell,
		FeePercent:   fee,
		MinimumOrder: minOrder,
		MaxStock:     c.MaxStock,
	}, nil
}
