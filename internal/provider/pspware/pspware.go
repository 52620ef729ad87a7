package pspware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/provider"
	"github.com/iurnickita/paybroker/internal/provider/config"
)

const Name = "PSPWare"

// Адаптер PSPWare. Ключ мерчанта в заголовке X-API-KEY

type Pspware struct {
	client     *resty.Client
	merchantID string
	zaplog     *zap.Logger
}

func New(cfg config.Config, zaplog *zap.Logger) *Pspware {
	client := resty.New().
		SetBaseURL(cfg.PspwareBaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("X-API-KEY", cfg.PspwareAPIKey).
		SetHeader("Content-Type", "application/json")

	return &Pspware{
		client:     client,
		merchantID: cfg.PspwareMerchantID,
		zaplog:     zaplog,
	}
}

// JSON ответ PSPWare
type answer struct {
	ID         string          `json:"id"`
	Sum        decimal.Decimal `json:"sum"`
	Status     string          `json:"status"`
	Card       string          `json:"card"`
	Recipient  string          `json:"recipient"`
	BankName   string          `json:"bankName"`
	PaymentURL string          `json:"payment_url"`
	Message    string          `json:"message"`
	Detail     json.RawMessage `json:"detail"`
}

// detail бывает списком ошибок валидации {loc, msg} либо строкой
func (a answer) errorMessage() string {
	if len(a.Detail) > 0 {
		var details []struct {
			Loc []any  `json:"loc"`
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(a.Detail, &details); err == nil {
			var errs []string
			for _, d := range details {
				var loc []string
				for _, l := range d.Loc {
					loc = append(loc, fmt.Sprint(l))
				}
				errs = append(errs, strings.Join(loc, ".")+": "+d.Msg)
			}
			return strings.Join(errs, "; ")
		}
		var s string
		if err := json.Unmarshal(a.Detail, &s); err == nil {
			return s
		}
		return string(a.Detail)
	}
	if a.Message != "" {
		return a.Message
	}
	return "unknown error"
}

func (p *Pspware) do(req *resty.Request, method string, path string) (answer, map[string]any, error) {
	resp, err := req.Execute(method, path)
	if err != nil {
		return answer{}, nil, &provider.ProviderError{Provider: Name, Message: err.Error(), Retryable: true}
	}

	var ans answer
	if err := json.Unmarshal(resp.Body(), &ans); err != nil && resp.StatusCode() == http.StatusOK {
		return answer{}, nil, &provider.ProviderError{Provider: Name, Message: "malformed payload: " + err.Error(), Retryable: true}
	}
	var raw map[string]any
	json.Unmarshal(resp.Body(), &raw)

	p.zaplog.Info("PSPWare response",
		zap.String("path", path),
		zap.Int("code", resp.StatusCode()),
		zap.String("status", ans.Status))

	if resp.StatusCode() != http.StatusOK {
		return answer{}, nil, &provider.ProviderError{
			Provider:  Name,
			Message:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), ans.errorMessage()),
			Retryable: true,
		}
	}
	return ans, raw, nil
}

func (p *Pspware) CreateOrder(ctx context.Context, req provider.CreateRequest) (model.ProviderOrder, error) {
	payload := map[string]any{
		"sum":         req.Amount,
		"currency":    "RUB",
		"order_type":  "PAY-IN",
		"pay_types":   []string{req.Method},
		"geos":        []string{"RU"},
		"merchant_id": p.merchantID,
		"order_id":    req.PersonalID,
		"description": "Exchange order " + req.PersonalID,
	}

	ans, raw, err := p.do(p.client.R().SetContext(ctx).SetBody(payload), http.MethodPost, "/orders")
	if err != nil {
		return model.ProviderOrder{}, err
	}
	if ans.Status != "success" {
		return model.ProviderOrder{}, &provider.ProviderError{Provider: Name, Message: ans.errorMessage(), Retryable: true}
	}

	return model.ProviderOrder{
		Provider:   Name,
		ProviderID: ans.ID,
		Requisite:  ans.Card,
		Owner:      ans.Recipient,
		Bank:       ans.BankName,
		PaymentURL: ans.PaymentURL,
		Raw:        raw,
	}, nil
}

func (p *Pspware) GetStatus(ctx context.Context, providerOrderID string) (model.ProviderStatus, error) {
	ans, _, err := p.do(p.client.R().SetContext(ctx), http.MethodGet, "/orders/"+providerOrderID)
	if err != nil {
		return model.ProviderStatus{}, err
	}

	return model.ProviderStatus{
		Provider:    Name,
		ProviderID:  ans.ID,
		Status:      normalizeStatus(ans.Status),
		ReceivedSum: ans.Sum,
	}, nil
}

func (p *Pspware) Cancel(ctx context.Context, providerOrderID string) error {
	ans, _, err := p.do(p.client.R().SetContext(ctx), http.MethodPost, "/orders/"+providerOrderID+"/cancel")
	if err != nil {
		return err
	}
	if ans.Status != "success" {
		return &provider.ProviderError{Provider: Name, Message: ans.errorMessage(), Retryable: false}
	}
	return nil
}

func (p *Pspware) HealthCheck(ctx context.Context) error {
	ans, _, err := p.do(p.client.R().SetContext(ctx), http.MethodGet, "/health")
	if err != nil {
		return err
	}
	if ans.Status != "ok" {
		return &provider.ProviderError{Provider: Name, Message: ans.errorMessage(), Retryable: false}
	}
	return nil
}

func normalizeStatus(status string) string {
	switch status {
	case "finished":
		return model.ProviderStatusFinished
	case "cancelled", "canceled":
		return model.ProviderStatusCancelled
	default:
		return model.ProviderStatusPending
	}
}
