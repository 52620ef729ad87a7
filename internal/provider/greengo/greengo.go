package greengo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/provider"
	"github.com/iurnickita/paybroker/internal/provider/config"
)

const Name = "Greengo"

// Адаптер Greengo. Обменный сервис: кроме реквизитов возвращает курс
// и сумму к получению. Единственный провайдер, которому нужен кошелек клиента

type Greengo struct {
	client *resty.Client
	zaplog *zap.Logger
}

func New(cfg config.Config, zaplog *zap.Logger) *Greengo {
	client := resty.New().
		SetBaseURL(cfg.GreengoBaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Api-Secret", cfg.GreengoAPISecret).
		SetHeader("Content-Type", "application/json")

	return &Greengo{client: client, zaplog: zaplog}
}

// Заявка в ответе Greengo
type item struct {
	OrderID       string          `json:"order_id"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	AmountPayable decimal.Decimal `json:"amount_payable"`
	WalletPayment string          `json:"wallet_payment"`
	OrderStatus   string          `json:"order_status"`
}

func (g *Greengo) post(ctx context.Context, path string, body any) ([]byte, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, &provider.ProviderError{Provider: Name, Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &provider.ProviderError{
			Provider:  Name,
			Message:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.Body()),
			Retryable: true,
		}
	}

	g.zaplog.Info("Greengo response", zap.String("path", path))
	return resp.Body(), nil
}

func (g *Greengo) CreateOrder(ctx context.Context, req provider.CreateRequest) (model.ProviderOrder, error) {
	body, err := g.post(ctx, "/order/create", map[string]any{
		"payment_method": req.Method,
		"wallet":         req.Wallet,
		"from_amount":    strconv.FormatInt(req.Amount, 10),
	})
	if err != nil {
		return model.ProviderOrder{}, err
	}

	var ans struct {
		Response string `json:"response"`
		Error    string `json:"error"`
		Items    []item `json:"items"`
	}
	if err := json.Unmarshal(body, &ans); err != nil {
		return model.ProviderOrder{}, &provider.ProviderError{Provider: Name, Message: "malformed payload: " + err.Error(), Retryable: true}
	}

	if ans.Response != "success" || len(ans.Items) == 0 {
		msg := ans.Error
		if msg == "" {
			msg = "empty answer"
		}
		return model.ProviderOrder{}, &provider.ProviderError{Provider: Name, Message: msg, Retryable: true}
	}

	var raw map[string]any
	json.Unmarshal(body, &raw)

	return model.ProviderOrder{
		Provider:   Name,
		ProviderID: ans.Items[0].OrderID,
		Requisite:  ans.Items[0].WalletPayment,
		Owner:      "Greengo Payment",
		Bank:       "Greengo Exchange",
		Raw:        raw,
	}, nil
}

func (g *Greengo) GetStatus(ctx context.Context, providerOrderID string) (model.ProviderStatus, error) {
	body, err := g.post(ctx, "/order/check", map[string]any{
		"order_id": []string{providerOrderID},
	})
	if err != nil {
		return model.ProviderStatus{}, err
	}

	var ans struct {
		Result string `json:"result"`
		Error  string `json:"error"`
		Data   struct {
			Orders []item `json:"orders"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &ans); err != nil {
		return model.ProviderStatus{}, &provider.ProviderError{Provider: Name, Message: "malformed payload: " + err.Error(), Retryable: true}
	}

	if ans.Result != "true" || len(ans.Data.Orders) == 0 {
		msg := ans.Error
		if msg == "" {
			msg = "orders not found"
		}
		return model.ProviderStatus{}, &provider.ProviderError{Provider: Name, Message: msg, Retryable: true}
	}

	order := ans.Data.Orders[0]
	return model.ProviderStatus{
		Provider:    Name,
		ProviderID:  order.OrderID,
		Status:      normalizeStatus(order.OrderStatus),
		ReceivedSum: order.AmountPayable,
	}, nil
}

func (g *Greengo) Cancel(ctx context.Context, providerOrderID string) error {
	body, err := g.post(ctx, "/order/cancel", map[string]any{
		"order_id": []string{providerOrderID},
	})
	if err != nil {
		return err
	}

	var ans struct {
		Result string `json:"result"`
		Error  string `json:"error"`
		Data   struct {
			Cancel []string `json:"cancel"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &ans); err != nil {
		return &provider.ProviderError{Provider: Name, Message: "malformed payload: " + err.Error(), Retryable: true}
	}
	if ans.Result != "true" {
		msg := ans.Error
		if msg == "" {
			msg = "unexpected answer"
		}
		return &provider.ProviderError{Provider: Name, Message: msg, Retryable: false}
	}
	return nil
}

// HealthCheck запрашивает справочник направлений обмена
func (g *Greengo) HealthCheck(ctx context.Context) error {
	resp, err := g.client.R().SetContext(ctx).Get("/directions")
	if err != nil {
		return &provider.ProviderError{Provider: Name, Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode() != http.StatusOK {
		return &provider.ProviderError{
			Provider:  Name,
			Message:   fmt.Sprintf("HTTP %d", resp.StatusCode()),
			Retryable: false,
		}
	}
	return nil
}

func normalizeStatus(status string) string {
	switch status {
	case "completed", "finished":
		return model.ProviderStatusFinished
	case "canceled", "cancelled":
		return model.ProviderStatusCancelled
	default:
		return model.ProviderStatusPending
	}
}
