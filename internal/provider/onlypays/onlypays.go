package onlypays

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/provider"
	"github.com/iurnickita/paybroker/internal/provider/config"
)

const Name = "OnlyPays"

// Адаптер OnlyPays. Ключи передаются в теле каждого запроса

type Onlypays struct {
	client     *resty.Client
	apiID      string
	secretKey  string
	paymentKey string
	zaplog     *zap.Logger
}

func New(cfg config.Config, zaplog *zap.Logger) *Onlypays {
	client := resty.New().
		SetBaseURL(cfg.OnlypaysBaseURL).
		SetTimeout(cfg.Timeout)

	return &Onlypays{
		client:     client,
		apiID:      cfg.OnlypaysAPIID,
		secretKey:  cfg.OnlypaysSecretKey,
		paymentKey: cfg.OnlypaysPaymentKey,
		zaplog:     zaplog,
	}
}

// JSON ответ OnlyPays
type answer struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		ID          string          `json:"id"`
		Requisite   string          `json:"requisite"`
		Owner       string          `json:"owner"`
		Bank        string          `json:"bank"`
		Status      string          `json:"status"`
		ReceivedSum decimal.Decimal `json:"received_sum"`
	} `json:"data"`
}

func (o *Onlypays) post(ctx context.Context, path string, body map[string]any) (answer, map[string]any, error) {
	body["api_id"] = o.apiID
	body["secret_key"] = o.secretKey

	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return answer{}, nil, &provider.ProviderError{Provider: Name, Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode() != http.StatusOK {
		return answer{}, nil, &provider.ProviderError{
			Provider:  Name,
			Message:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.Body()),
			Retryable: true,
		}
	}

	var ans answer
	if err := json.Unmarshal(resp.Body(), &ans); err != nil {
		return answer{}, nil, &provider.ProviderError{Provider: Name, Message: "malformed payload: " + err.Error(), Retryable: true}
	}
	var raw map[string]any
	json.Unmarshal(resp.Body(), &raw)

	o.zaplog.Info("OnlyPays response",
		zap.String("path", path),
		zap.Bool("success", ans.Success))

	return ans, raw, nil
}

func (o *Onlypays) CreateOrder(ctx context.Context, req provider.CreateRequest) (model.ProviderOrder, error) {
	body := map[string]any{
		"amount_rub":   req.Amount,
		"payment_type": req.Method,
	}
	if req.PersonalID != "" {
		body["personal_id"] = req.PersonalID
	}
	if req.IsSell {
		body["trans"] = true
	}

	ans, raw, err := o.post(ctx, "/get_requisite", body)
	if err != nil {
		return model.ProviderOrder{}, err
	}
	if !ans.Success {
		return model.ProviderOrder{}, &provider.ProviderError{Provider: Name, Message: ans.Error, Retryable: true}
	}

	return model.ProviderOrder{
		Provider:   Name,
		ProviderID: ans.Data.ID,
		Requisite:  ans.Data.Requisite,
		Owner:      ans.Data.Owner,
		Bank:       ans.Data.Bank,
		Raw:        raw,
	}, nil
}

func (o *Onlypays) GetStatus(ctx context.Context, providerOrderID string) (model.ProviderStatus, error) {
	ans, _, err := o.post(ctx, "/get_status", map[string]any{"id": providerOrderID})
	if err != nil {
		return model.ProviderStatus{}, err
	}
	if !ans.Success {
		return model.ProviderStatus{}, &provider.ProviderError{Provider: Name, Message: ans.Error, Retryable: true}
	}

	return model.ProviderStatus{
		Provider:    Name,
		ProviderID:  ans.Data.ID,
		Status:      normalizeStatus(ans.Data.Status),
		ReceivedSum: ans.Data.ReceivedSum,
	}, nil
}

func (o *Onlypays) Cancel(ctx context.Context, providerOrderID string) error {
	ans, _, err := o.post(ctx, "/cancel_order", map[string]any{"id": providerOrderID})
	if err != nil {
		return err
	}
	if !ans.Success {
		return &provider.ProviderError{Provider: Name, Message: ans.Error, Retryable: false}
	}
	return nil
}

// HealthCheck опрашивает баланс мерчанта: отдельного health-эндпоинта у OnlyPays нет
func (o *Onlypays) HealthCheck(ctx context.Context) error {
	if o.paymentKey == "" {
		return &provider.ProviderError{Provider: Name, Message: "payment key not provided", Retryable: false}
	}
	ans, _, err := o.post(ctx, "/get_balance", map[string]any{"payment_key": o.paymentKey})
	if err != nil {
		return err
	}
	if !ans.Success {
		return &provider.ProviderError{Provider: Name, Message: ans.Error, Retryable: false}
	}
	return nil
}

// Payout - заявка на выплату (выводная нога обмена)
func (o *Onlypays) Payout(ctx context.Context, payoutType string, amount int64, requisite string, bank string, personalID string) (string, error) {
	if o.paymentKey == "" {
		return "", &provider.ProviderError{Provider: Name, Message: "payment key not provided", Retryable: false}
	}
	body := map[string]any{
		"payment_key": o.paymentKey,
		"type":        payoutType,
		"amount":      amount,
		"requisite":   requisite,
		"bank":        bank,
	}
	if personalID != "" {
		body["personal_id"] = personalID
	}

	ans, _, err := o.post(ctx, "/create_payout", body)
	if err != nil {
		return "", err
	}
	if !ans.Success {
		return "", &provider.ProviderError{Provider: Name, Message: ans.Error, Retryable: false}
	}
	return ans.Data.ID, nil
}

func (o *Onlypays) PayoutStatus(ctx context.Context, payoutID string) (model.ProviderStatus, error) {
	if o.paymentKey == "" {
		return model.ProviderStatus{}, &provider.ProviderError{Provider: Name, Message: "payment key not provided", Retryable: false}
	}
	ans, _, err := o.post(ctx, "/payout_status", map[string]any{
		"payment_key": o.paymentKey,
		"id":          payoutID,
	})
	if err != nil {
		return model.ProviderStatus{}, err
	}
	if !ans.Success {
		return model.ProviderStatus{}, &provider.ProviderError{Provider: Name, Message: ans.Error, Retryable: false}
	}
	return model.ProviderStatus{
		Provider:   Name,
		ProviderID: ans.Data.ID,
		Status:     normalizeStatus(ans.Data.Status),
	}, nil
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
