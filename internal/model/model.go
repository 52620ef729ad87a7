package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Заявка на обмен

type Order struct {
	ID   int64
	Data OrderData
}
type OrderData struct {
	UserID      int64
	OnlypaysID  string
	PspwareID   string
	NicepayID   string
	GreengoID   string
	AmountRub   int64
	AmountBtc   decimal.Decimal
	BtcAddress  string
	Rate        decimal.Decimal
	TotalAmount int64
	PaymentType string
	Status      string
	CreatedAt   time.Time
	CompletedAt time.Time
	Requisites  string
	ReceivedSum decimal.Decimal
	// Проблемная заявка: требует внимания оператора
	IsProblematic bool
	OperatorNotes string
	// Внешний номер заявки у провайдера (для сопоставления callback)
	PersonalID string
	// Номер заявки, который видит клиент
	DisplayID string
}

const (
	OrderStatusWaiting         = "waiting"
	OrderStatusPaidByClient    = "paid_by_client"
	OrderStatusCompleted       = "completed"
	OrderStatusCancelled       = "cancelled"
	OrderStatusProblem         = "problem"
	OrderStatusErrorRequisites = "error_requisites"
)

// Терминальный статус: дальнейшие переходы запрещены
func OrderStatusTerminal(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled
}

// ProviderID возвращает номер заявки у провайдера, который ее обслуживает
func (o Order) ProviderID() (provider string, id string) {
	switch {
	case o.Data.OnlypaysID != "":
		return "OnlyPays", o.Data.OnlypaysID
	case o.Data.PspwareID != "":
		return "PSPWare", o.Data.PspwareID
	case o.Data.NicepayID != "":
		return "NicePay", o.Data.NicepayID
	case o.Data.GreengoID != "":
		return "Greengo", o.Data.GreengoID
	}
	return "", ""
}

// Нормализованный результат создания заявки у платежного провайдера

type ProviderOrder struct {
	Provider   string
	ProviderID string
	Requisite  string
	Owner      string
	Bank       string
	PaymentURL string
	// Исходный ответ провайдера для диагностики
	Raw map[string]any
}

// Нормализованный статус заявки у провайдера

const (
	ProviderStatusPending   = "pending"
	ProviderStatusFinished  = "finished"
	ProviderStatusCancelled = "cancelled"
)

type ProviderStatus struct {
	Provider    string
	ProviderID  string
	Status      string
	ReceivedSum decimal.Decimal
}

// Оборот. Журнал, записи не редактируются

type Turnover struct {
	MirrorID  string
	OrderID   int64
	UserID    int64
	Amount    int64
	Status    string
	CreatedAt time.Time
}

const TurnoverStatusPaid = "paid"

// Агрегат оборота по зеркалу
type TurnoverTotal struct {
	MirrorID    string
	TotalAmount int64
	TotalOrders int64
}
