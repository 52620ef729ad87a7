package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/theplant/luhn"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/manager"
	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/notifier"
	"github.com/iurnickita/paybroker/internal/provider"
	"github.com/iurnickita/paybroker/internal/rates"
	"github.com/iurnickita/paybroker/internal/reconciler"
	"github.com/iurnickita/paybroker/internal/service/config"
	"github.com/iurnickita/paybroker/internal/store"
)

// Service - точка входа оркестрации: создание заявки, получение
// реквизитов с повторами, проверка статуса, действия оператора
type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (model.Order, error)
	GetOrder(ctx context.Context, orderID int64) (model.Order, error)
	GetUserOrders(ctx context.Context, userID int64) ([]model.Order, error)
	CheckStatus(ctx context.Context, orderID int64) (model.Order, error)
	CancelOrder(ctx context.Context, orderID int64) error
	CompleteOrder(ctx context.Context, orderID int64) error
	MarkProblem(ctx context.Context, orderID int64) error
	AddNote(ctx context.Context, orderID int64, note string) error
	HealthCheck(ctx context.Context) map[string]error
	Run(ctx context.Context)
}

var (
	ErrNotFound      = errors.New("order not found")
	ErrStateConflict = errors.New("state conflict")
	ErrNoRequisites  = errors.New("requisites not acquired")
)

type CreateOrderRequest struct {
	UserID      int64
	AmountRub   int64
	PaymentType string
	// Назначение выплаты: адрес кошелька для покупки,
	// номер карты для продажи
	Destination string
	IsSell      bool
}

type service struct {
	cfg        config.Config
	store      store.Store
	manager    manager.Manager
	reconciler reconciler.Reconciler
	rates      rates.Rates
	notifier   notifier.Notifier
	zaplog     *zap.Logger
}

func NewService(cfg config.Config, store store.Store, manager manager.Manager,
	reconciler reconciler.Reconciler, rates rates.Rates, notifier notifier.Notifier,
	zaplog *zap.Logger) Service {

	return &service{
		cfg:        cfg,
		store:      store,
		manager:    manager,
		reconciler: reconciler,
		rates:      rates,
		notifier:   notifier,
		zaplog:     zaplog,
	}
}

// CreateOrder проверяет запрос, фиксирует финансовые условия и сохраняет
// заявку в статусе waiting. Реквизиты запрашиваются фоном
func (service *service) CreateOrder(ctx context.Context, req CreateOrderRequest) (model.Order, error) {
	if req.AmountRub < service.cfg.MinAmount || req.AmountRub > service.cfg.MaxAmount {
		return model.Order{}, &provider.ValidationError{Field: "amount", Value: strconv.FormatInt(req.AmountRub, 10)}
	}
	if req.PaymentType == "" {
		return model.Order{}, &provider.ValidationError{Field: "method", Value: req.PaymentType}
	}
	if err := validateDestination(req.Destination, req.IsSell); err != nil {
		return model.Order{}, err
	}

	rate, err := service.rates.GetBTCRate(ctx)
	if err != nil {
		// курс берется из кеша, ошибка не блокирует заявку
		service.zaplog.Warn("не удалось обновить курс", zap.Error(err))
	}

	// Финансовые условия фиксируются здесь и больше не пересчитываются
	commission := decimal.NewFromFloat(1 + service.cfg.CommissionPercent/100)
	amount := decimal.NewFromInt(req.AmountRub)
	totalAmount := amount.Mul(commission).Ceil().IntPart()
	amountBtc := amount.Div(rate).Round(8)

	order := model.Order{
		Data: model.OrderData{
			UserID:      req.UserID,
			AmountRub:   req.AmountRub,
			AmountBtc:   amountBtc,
			BtcAddress:  destinationWallet(req),
			Rate:        rate,
			TotalAmount: totalAmount,
			PaymentType: req.PaymentType,
			Status:      model.OrderStatusWaiting,
			CreatedAt:   time.Now(),
			DisplayID:   uuid.NewString(),
		},
	}

	id, err := service.store.OrderCreate(ctx, order)
	if err != nil {
		return model.Order{}, err
	}
	order.ID = id

	go service.acquireRequisites(order, req)

	return order, nil
}

func destinationWallet(req CreateOrderRequest) string {
	if req.IsSell {
		return ""
	}
	return req.Destination
}

// validateDestination отклоняет назначение до любого сетевого вызова.
// Покупка - адрес кошелька, продажа - номер карты для выплаты
func validateDestination(destination string, isSell bool) error {
	if destination == "" {
		return &provider.ValidationError{Field: "destination", Value: destination}
	}

	if isSell {
		card := strings.ReplaceAll(destination, " ", "")
		n, err := strconv.Atoi(card)
		if err != nil || !luhn.Valid(n) {
			return &provider.ValidationError{Field: "destination", Value: destination}
		}
		return nil
	}

	for _, prefix := range []string{"bc1", "1", "3", "0x"} {
		if strings.HasPrefix(destination, prefix) {
			return nil
		}
	}
	return &provider.ValidationError{Field: "destination", Value: destination}
}

// acquireRequisites запрашивает реквизиты с ограниченным числом попыток.
// Попытки строго последовательные. Перед каждой проверяется текущий
// статус: заявку могли отменить, пока шла пауза
func (service *service) acquireRequisites(order model.Order, req CreateOrderRequest) {
	ctx := context.Background()
	personalID := strconv.FormatInt(order.ID, 10)

	for attempt := 1; attempt <= service.cfg.RequisiteAttempts; attempt++ {
		current, err := service.store.OrderGet(ctx, order.ID)
		if err != nil {
			service.zaplog.Error("заявка не прочитана перед попыткой",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			return
		}
		if current.Data.Status != model.OrderStatusWaiting {
			service.zaplog.Info("получение реквизитов прервано: статус изменился",
				zap.Int64("order_id", order.ID),
				zap.String("status", current.Data.Status))
			return
		}

		po, err := service.manager.CreateOrder(ctx,
			current.Data.TotalAmount,
			current.Data.PaymentType,
			personalID,
			req.IsSell,
			current.Data.BtcAddress)
		if err == nil {
			service.saveRequisites(ctx, current, po)
			return
		}

		service.zaplog.Warn("попытка получения реквизитов не удалась",
			zap.Int64("order_id", order.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		// ошибка валидации переключением и повтором не лечится
		var verr *provider.ValidationError
		if errors.As(err, &verr) {
			break
		}

		if attempt < service.cfg.RequisiteAttempts {
			time.Sleep(service.cfg.RequisiteDelay)
		}
	}

	// лимит исчерпан: заявка не остается в waiting навсегда
	current, err := service.store.OrderGet(ctx, order.ID)
	if err != nil || current.Data.Status != model.OrderStatusWaiting {
		return
	}
	err = service.store.OrderUpdate(ctx, order.ID, map[string]any{
		"status": model.OrderStatusErrorRequisites,
	})
	if err != nil {
		service.zaplog.Error("не удалось пометить заявку error_requisites",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}
	current.Data.Status = model.OrderStatusErrorRequisites
	service.notifier.RequisitesUnavailable(ctx, current)
}

func (service *service) saveRequisites(ctx context.Context, order model.Order, po model.ProviderOrder) {
	fields := map[string]any{
		"requisites":  requisitesText(po),
		"personal_id": po.ProviderID,
	}
	// номер у провайдера записывается один раз и больше не меняется
	switch po.Provider {
	case "OnlyPays":
		fields["onlypays_id"] = po.ProviderID
	case "PSPWare":
		fields["pspware_id"] = po.ProviderID
	case "NicePay":
		fields["nicepay_id"] = po.ProviderID
	case "Greengo":
		fields["greengo_id"] = po.ProviderID
	}

	// запись только если заявка все еще waiting: пока шел вызов
	// провайдера, оператор мог ее отменить
	err := service.store.OrderUpdateIfStatus(ctx, order.ID, model.OrderStatusWaiting, fields)
	if errors.Is(err, store.ErrNoRows) {
		service.zaplog.Info("реквизиты получены для уже закрытой заявки",
			zap.Int64("order_id", order.ID),
			zap.String("provider", po.Provider),
			zap.String("provider_id", po.ProviderID))
		// заявка у провайдера уже создана, отменяем по возможности
		if err := service.manager.Cancel(ctx, po.ProviderID, po.Provider); err != nil {
			service.zaplog.Warn("провайдер не подтвердил отмену",
				zap.Int64("order_id", order.ID),
				zap.String("provider", po.Provider),
				zap.Error(err))
		}
		return
	}
	if err != nil {
		service.zaplog.Error("не удалось сохранить реквизиты",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return
	}

	current, err := service.store.OrderGet(ctx, order.ID)
	if err != nil {
		current = order
	}
	service.notifier.RequisitesReady(ctx, current)

	service.zaplog.Info("реквизиты сохранены",
		zap.Int64("order_id", order.ID),
		zap.String("provider", po.Provider),
		zap.String("provider_id", po.ProviderID))
}

func requisitesText(po model.ProviderOrder) string {
	if po.PaymentURL != "" {
		return "Ссылка для оплаты: " + po.PaymentURL
	}
	var b strings.Builder
	b.WriteString("Реквизит: " + po.Requisite)
	if po.Owner != "" {
		b.WriteString("\nПолучатель: " + po.Owner)
	}
	if po.Bank != "" {
		b.WriteString("\nБанк: " + po.Bank)
	}
	return b.String()
}

func (service *service) GetOrder(ctx context.Context, orderID int64) (model.Order, error) {
	order, err := service.store.OrderGet(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Order{}, ErrNotFound
		}
		return model.Order{}, err
	}
	return order, nil
}

func (service *service) GetUserOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return service.store.OrdersGetByUser(ctx, userID, 5)
}

// CheckStatus - ручная проверка по требованию клиента. Результат опроса
// сводится в тот же reconcile, что и callback провайдера
func (service *service) CheckStatus(ctx context.Context, orderID int64) (model.Order, error) {
	order, err := service.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}

	if order.Data.Status != model.OrderStatusWaiting &&
		order.Data.Status != model.OrderStatusPaidByClient {
		return order, nil
	}

	providerName, providerID := order.ProviderID()
	if providerName == "" {
		return order, ErrNoRequisites
	}

	status, err := service.manager.GetStatus(ctx, providerID, providerName)
	if err != nil {
		return order, err
	}

	if err := service.reconciler.Reconcile(ctx, order.ID, status.Status, status.ReceivedSum); err != nil {
		return order, err
	}

	return service.GetOrder(ctx, orderID)
}

// CancelOrder - отмена оператором. Действует даже при запущенном цикле
// получения реквизитов: цикл проверяет статус перед каждой попыткой
func (service *service) CancelOrder(ctx context.Context, orderID int64) error {
	order, err := service.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if err := service.reconciler.Cancel(ctx, orderID); err != nil {
		if errors.Is(err, reconciler.ErrStateConflict) {
			return ErrStateConflict
		}
		if errors.Is(err, reconciler.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	// отмена на стороне провайдера - по возможности
	providerName, providerID := order.ProviderID()
	if providerName != "" {
		if err := service.manager.Cancel(ctx, providerID, providerName); err != nil {
			service.zaplog.Warn("провайдер не подтвердил отмену",
				zap.Int64("order_id", orderID),
				zap.String("provider", providerName),
				zap.Error(err))
		}
	}
	return nil
}

func (service *service) CompleteOrder(ctx context.Context, orderID int64) error {
	err := service.reconciler.Complete(ctx, orderID)
	switch {
	case errors.Is(err, reconciler.ErrStateConflict):
		return ErrStateConflict
	case errors.Is(err, reconciler.ErrNotFound):
		return ErrNotFound
	}
	return err
}

func (service *service) MarkProblem(ctx context.Context, orderID int64) error {
	err := service.reconciler.MarkProblem(ctx, orderID)
	switch {
	case errors.Is(err, reconciler.ErrStateConflict):
		return ErrStateConflict
	case errors.Is(err, reconciler.ErrNotFound):
		return ErrNotFound
	}
	return err
}

func (service *service) AddNote(ctx context.Context, orderID int64, note string) error {
	err := service.reconciler.AddNote(ctx, orderID, note)
	if errors.Is(err, reconciler.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (service *service) HealthCheck(ctx context.Context) map[string]error {
	return service.manager.HealthCheck(ctx)
}

// Run - периодическая уборка просроченных заявок без реквизитов.
// Одна задача на весь движок вместо таймера на каждую заявку
func (service *service) Run(ctx context.Context) {
	ticker := time.NewTicker(service.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := service.store.OrderDeleteExpired(ctx, service.cfg.OrderTTL)
			if err != nil {
				service.zaplog.Error("уборка просроченных заявок", zap.Error(err))
				continue
			}
			if deleted > 0 {
				service.zaplog.Info("просроченные заявки удалены", zap.Int64("count", deleted))
			}
		}
	}
}
