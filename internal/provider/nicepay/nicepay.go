package nicepay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/provider"
	"github.com/iurnickita/paybroker/internal/provider/config"
)

const Name = "NicePay"

// Methods - допустимые способы оплаты NicePay.
// Недопустимый метод отклоняется до сетевого вызова
var Methods = map[string]string{
	"sbp":        "sbp_rub",
	"sberbank":   "sberbank_rub",
	"tinkoff":    "tinkoff_rub",
	"alfabank":   "alfabank_rub",
	"raiffeisen": "raiffeisen_rub",
	"vtb":        "vtb_rub",
	"rnkbbank":   "rnkbbank_rub",
	"postbank":   "postbank_rub",
	"yoomoney":   "yoomoney_rub",
	"advcash":    "advcash_rub",
	"payeer":     "payeer_rub",
}

// Адаптер NicePay. Провайдер выдает ссылку на оплату вместо реквизитов.
// Статус заявки приходит только через callback: у API нет методов
// проверки статуса и отмены

type Nicepay struct {
	client     *resty.Client
	merchantID string
	secret     string
	zaplog     *zap.Logger
}

func New(cfg config.Config, zaplog *zap.Logger) *Nicepay {
	client := resty.New().
		SetBaseURL(cfg.NicepayBaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Nicepay{
		client:     client,
		merchantID: cfg.NicepayMerchant,
		secret:     cfg.NicepaySecret,
		zaplog:     zaplog,
	}
}

// JSON ответ NicePay
type answer struct {
	Status string `json:"status"`
	Data   struct {
		PaymentID string `json:"payment_id"`
		Link      string `json:"link"`
		Message   string `json:"message"`
	} `json:"data"`
}

func (n *Nicepay) CreateOrder(ctx context.Context, req provider.CreateRequest) (model.ProviderOrder, error) {
	valid := false
	for _, m := range Methods {
		if req.Method == m {
			valid = true
			break
		}
	}
	if !valid {
		return model.ProviderOrder{}, &provider.ValidationError{Field: "method", Value: req.Method}
	}

	params := map[string]any{
		"merchant_id": n.merchantID,
		"secret":      n.secret,
		"order_id":    req.PersonalID,
		"customer":    fmt.Sprintf("customer_%s@example.com", req.PersonalID),
		"amount":      req.Amount * 100, // копейки
		"currency":    "RUB",
		"description": "Payment for order " + req.PersonalID,
		"method":      req.Method,
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(params).
		Post("")
	if err != nil {
		return model.ProviderOrder{}, &provider.ProviderError{Provider: Name, Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode() != http.StatusOK {
		return model.ProviderOrder{}, &provider.ProviderError{
			Provider:  Name,
			Message:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.Body()),
			Retryable: true,
		}
	}

	var ans answer
	if err := json.Unmarshal(resp.Body(), &ans); err != nil {
		return model.ProviderOrder{}, &provider.ProviderError{Provider: Name, Message: "malformed payload: " + err.Error(), Retryable: true}
	}
	var raw map[string]any
	json.Unmarshal(resp.Body(), &raw)

	n.zaplog.Info("NicePay response",
		zap.String("status", ans.Status),
		zap.String("payment_id", ans.Data.PaymentID))

	if ans.Status != "success" {
		msg := ans.Data.Message
		if msg == "" {
			msg = "unknown error"
		}
		return model.ProviderOrder{}, &provider.ProviderError{Provider: Name, Message: msg, Retryable: true}
	}

	return model.ProviderOrder{
		Provider:   Name,
		ProviderID: ans.Data.PaymentID,
		PaymentURL: ans.Data.Link,
		Raw:        raw,
	}, nil
}

func (n *Nicepay) GetStatus(ctx context.Context, providerOrderID string) (model.ProviderStatus, error) {
	return model.ProviderStatus{}, &provider.ProviderError{Provider: Name, Message: "status check is not supported", Retryable: false}
}

func (n *Nicepay) Cancel(ctx context.Context, providerOrderID string) error {
	return &provider.ProviderError{Provider: Name, Message: "cancel is not supported", Retryable: false}
}

func (n *Nicepay) HealthCheck(ctx context.Context) error {
	return &provider.ProviderError{Provider: Name, Message: "health check is not supported", Retryable: false}
}
