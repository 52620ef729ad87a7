package config

import "time"

type Config struct {
	Timeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`

	OnlypaysBaseURL    string `env:"ONLYPAYS_BASE_URL" envDefault:"https://onlypays.net"`
	OnlypaysAPIID      string `env:"ONLYPAYS_API_ID"`
	OnlypaysSecretKey  string `env:"ONLYPAYS_SECRET_KEY"`
	OnlypaysPaymentKey string `env:"ONLYPAYS_PAYMENT_KEY"`

	PspwareBaseURL    string `env:"PSPWARE_BASE_URL" envDefault:"https://api.pspware.space/merchant/v2"`
	PspwareAPIKey     string `env:"PSPWARE_API_KEY"`
	PspwareMerchantID string `env:"PSPWARE_MERCHANT_ID"`

	NicepayBaseURL  string `env:"NICEPAY_BASE_URL" envDefault:"https://nicepay.io/public/api/payment"`
	NicepayMerchant string `env:"NICEPAY_MERCHANT_KEY"`
	NicepaySecret   string `env:"NICEPAY_MERCHANT_TOKEN_KEY"`

	GreengoBaseURL   string `env:"GREENGO_BASE_URL" envDefault:"https://api.greengo.cc/api/v2"`
	GreengoAPISecret string `env:"GREENGO_API_SECRET"`
}
