package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/notifier"
	"github.com/iurnickita/paybroker/internal/store"
	"github.com/iurnickita/paybroker/internal/turnover"
)

// Reconciler ведет заявку по машине состояний. Подтверждение оплаты
// приходит из двух независимых источников - ручной проверки статуса и
// callback провайдера - оба сводятся в Reconcile
type Reconciler interface {
	Reconcile(ctx context.Context, orderID int64, reportedStatus string, receivedSum decimal.Decimal) error
	Cancel(ctx context.Context, orderID int64) error
	Complete(ctx context.Context, orderID int64) error
	MarkProblem(ctx context.Context, orderID int64) error
	AddNote(ctx context.Context, orderID int64, note string) error
}

var (
	ErrNotFound = errors.New("order not found")
	// Переход из терминального статуса. Для reconcile это no-op,
	// для явных действий оператора - ошибка
	ErrStateConflict = errors.New("state conflict")
)

// orderLock - замок одной заявки со счетчиком ожидающих.
// Счетчик позволяет убрать запись из карты, как только замок
// никому не нужен, иначе карта растет на каждую заявку
type orderLock struct {
	mutex sync.Mutex
	refs  int
}

type reconciler struct {
	store    store.Store
	turnover turnover.Turnover
	notifier notifier.Notifier
	zaplog   *zap.Logger

	// Обработка сводится в одного писателя на заявку:
	// опрос статуса и callback могут прийти одновременно
	ordersMutex map[int64]*orderLock
	mapMutex    sync.Mutex
}

func NewReconciler(store store.Store, turnover turnover.Turnover, notifier notifier.Notifier, zaplog *zap.Logger) Reconciler {
	return &reconciler{
		store:       store,
		turnover:    turnover,
		notifier:    notifier,
		zaplog:      zaplog,
		ordersMutex: make(map[int64]*orderLock),
	}
}

func (r *reconciler) lock(orderID int64) *orderLock {
	r.mapMutex.Lock()
	l, ok := r.ordersMutex[orderID]
	if !ok {
		l = &orderLock{}
		r.ordersMutex[orderID] = l
	}
	l.refs++
	r.mapMutex.Unlock()

	l.mutex.Lock()
	return l
}

func (r *reconciler) unlock(orderID int64, l *orderLock) {
	l.mutex.Unlock()

	r.mapMutex.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.ordersMutex, orderID)
	}
	r.mapMutex.Unlock()
}

func (r *reconciler) getOrder(ctx context.Context, orderID int64) (model.Order, error) {
	order, err := r.store.OrderGet(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return model.Order{}, ErrNotFound
		}
		return model.Order{}, err
	}
	return order, nil
}

// Reconcile идемпотентен: повторная доставка того же терминального статуса
// ничего не меняет. Сам переход и есть защита - расчет выполняется
// только на переходе waiting -> paid_by_client
func (r *reconciler) Reconcile(ctx context.Context, orderID int64, reportedStatus string, receivedSum decimal.Decimal) error {
	l := r.lock(orderID)
	defer r.unlock(orderID, l)

	order, err := r.getOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if order.Data.Status != model.OrderStatusWaiting &&
		order.Data.Status != model.OrderStatusPaidByClient {
		r.zaplog.Debug("reconcile пропущен: статус вне обработки",
			zap.Int64("order_id", orderID),
			zap.String("status", order.Data.Status))
		return nil
	}

	switch reportedStatus {
	case model.ProviderStatusFinished:
		if order.Data.Status != model.OrderStatusWaiting {
			// повторная доставка
			return nil
		}
		return r.settle(ctx, order, receivedSum)

	case model.ProviderStatusCancelled:
		if order.Data.Status != model.OrderStatusWaiting {
			return nil
		}
		err := r.store.OrderUpdate(ctx, orderID, map[string]any{
			"status": model.OrderStatusCancelled,
		})
		if err != nil {
			return err
		}
		order.Data.Status = model.OrderStatusCancelled
		r.notifier.OrderCancelled(ctx, order)
		r.zaplog.Info("заявка отменена провайдером", zap.Int64("order_id", orderID))
		return nil
	}

	return nil
}

// settle выполняется не больше одного раза на заявку:
// запись оборота и уведомления привязаны к единственному переходу
func (r *reconciler) settle(ctx context.Context, order model.Order, receivedSum decimal.Decimal) error {
	if receivedSum.IsZero() {
		receivedSum = decimal.NewFromInt(order.Data.TotalAmount)
	}

	err := r.store.OrderUpdate(ctx, order.ID, map[string]any{
		"status":       model.OrderStatusPaidByClient,
		"received_sum": receivedSum,
	})
	if err != nil {
		return err
	}
	order.Data.Status = model.OrderStatusPaidByClient
	order.Data.ReceivedSum = receivedSum

	if err := r.turnover.Add(ctx, order.ID, order.Data.UserID, order.Data.TotalAmount); err != nil {
		// оборот не должен терять оплату молча
		r.zaplog.Error("не удалось записать оборот",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	r.notifier.OrderPaid(ctx, order)
	r.notifier.OperatorOrderPaid(ctx, order)

	r.zaplog.Info("оплата подтверждена",
		zap.Int64("order_id", order.ID),
		zap.String("received_sum", receivedSum.String()))
	return nil
}

// Cancel - явная отмена оператором. Разрешена из любого нетерминального статуса
func (r *reconciler) Cancel(ctx context.Context, orderID int64) error {
	l := r.lock(orderID)
	defer r.unlock(orderID, l)

	order, err := r.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if model.OrderStatusTerminal(order.Data.Status) {
		return ErrStateConflict
	}

	err = r.store.OrderUpdate(ctx, orderID, map[string]any{
		"status": model.OrderStatusCancelled,
	})
	if err != nil {
		return err
	}
	order.Data.Status = model.OrderStatusCancelled
	r.notifier.OrderCancelled(ctx, order)
	r.zaplog.Info("заявка отменена оператором", zap.Int64("order_id", orderID))
	return nil
}

// Complete - подтверждение оператором, что выплата выполнена
func (r *reconciler) Complete(ctx context.Context, orderID int64) error {
	l := r.lock(orderID)
	defer r.unlock(orderID, l)

	order, err := r.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Data.Status != model.OrderStatusPaidByClient {
		return ErrStateConflict
	}

	err = r.store.OrderUpdate(ctx, orderID, map[string]any{
		"status":       model.OrderStatusCompleted,
		"completed_at": time.Now(),
	})
	if err != nil {
		return err
	}
	r.zaplog.Info("заявка завершена", zap.Int64("order_id", orderID))
	return nil
}

func (r *reconciler) MarkProblem(ctx context.Context, orderID int64) error {
	l := r.lock(orderID)
	defer r.unlock(orderID, l)

	order, err := r.getOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Data.Status != model.OrderStatusWaiting &&
		order.Data.Status != model.OrderStatusPaidByClient {
		return ErrStateConflict
	}

	err = r.store.OrderUpdate(ctx, orderID, map[string]any{
		"status":         model.OrderStatusProblem,
		"is_problematic": true,
	})
	if err != nil {
		return err
	}
	order.Data.Status = model.OrderStatusProblem
	order.Data.IsProblematic = true
	r.notifier.OperatorProblem(ctx, order)
	return nil
}

// AddNote разрешен всегда, в том числе на терминальных статусах
func (r *reconciler) AddNote(ctx context.Context, orderID int64, note string) error {
	l := r.lock(orderID)
	defer r.unlock(orderID, l)

	order, err := r.getOrder(ctx, orderID)
	if err != nil {
		return err
	}

	notes := order.Data.OperatorNotes
	if notes != "" {
		notes += "\n"
	}
	notes += note

	return r.store.OrderUpdate(ctx, orderID, map[string]any{
		"operator_notes": notes,
	})
}
