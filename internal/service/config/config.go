package config

import "time"

type Config struct {
	MinAmount         int64   `env:"MIN_AMOUNT" envDefault:"2000"`
	MaxAmount         int64   `env:"MAX_AMOUNT" envDefault:"100000"`
	CommissionPercent float64 `env:"COMMISSION_PERCENT" envDefault:"20"`

	// Получение реквизитов: число попыток и пауза между ними
	RequisiteAttempts int           `env:"REQUISITE_ATTEMPTS" envDefault:"3"`
	RequisiteDelay    time.Duration `env:"REQUISITE_DELAY" envDefault:"60s"`

	// Заявка без реквизитов удаляется после этого срока
	OrderTTL      time.Duration `env:"ORDER_TTL" envDefault:"30m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`

	RatesBaseURL string        `env:"RATES_BASE_URL" envDefault:"https://api.coingecko.com/api/v3"`
	RatesTimeout time.Duration `env:"RATES_TIMEOUT" envDefault:"10s"`
}
