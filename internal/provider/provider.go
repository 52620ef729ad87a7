package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/iurnickita/paybroker/internal/model"
)

// Adapter - единый контракт платежного провайдера.
// Каждый провайдер транслирует его в свои вызовы и обратно,
// сырые транспортные ошибки наружу не выходят
type Adapter interface {
	CreateOrder(ctx context.Context, req CreateRequest) (model.ProviderOrder, error)
	GetStatus(ctx context.Context, providerOrderID string) (model.ProviderStatus, error)
	Cancel(ctx context.Context, providerOrderID string) error
	HealthCheck(ctx context.Context) error
}

// CreateRequest - канонический запрос создания заявки
type CreateRequest struct {
	// Сумма в рублях, целиком
	Amount int64
	// Способ оплаты после трансляции через таблицу провайдера
	Method string
	// Внутренний номер заявки для сопоставления callback
	PersonalID string
	IsSell     bool
	// Кошелек клиента (нужен только Greengo)
	Wallet string
}

var ErrNotFound = errors.New("not found")

// ValidationError - отказ до сетевого вызова: неверная сумма/метод/адрес
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Value)
}

// ProviderError - ошибка провайдера: транспорт, плохой HTTP-статус,
// неразборчивый ответ. Retryable управляет повторами при получении реквизитов
type ProviderError struct {
	Provider  string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
