package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/notifier"
	"github.com/iurnickita/paybroker/internal/store"
)

// хранилище в памяти для проверки переходов
type memStore struct {
	mu     sync.Mutex
	orders map[int64]model.Order
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[int64]model.Order)}
}

func (m *memStore) OrderCreate(_ context.Context, order model.Order) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	order.ID = m.nextID
	m.orders[order.ID] = order
	return order.ID, nil
}

func (m *memStore) OrderGet(_ context.Context, id int64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return model.Order{}, store.ErrNoRows
	}
	return order, nil
}

func (m *memStore) OrderGetByPersonalID(_ context.Context, personalID string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.Data.PersonalID == personalID {
			return order, nil
		}
	}
	return model.Order{}, store.ErrNoRows
}

func (m *memStore) OrdersGetByUser(_ context.Context, userID int64, _ int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []model.Order
	for _, order := range m.orders {
		if order.Data.UserID == userID {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (m *memStore) OrderUpdate(_ context.Context, id int64, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, "", fields)
}

func (m *memStore) OrderUpdateIfStatus(_ context.Context, id int64, status string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(id, status, fields)
}

func (m *memStore) updateLocked(id int64, expectStatus string, fields map[string]any) error {
	order, ok := m.orders[id]
	if !ok {
		return store.ErrNoRows
	}
	if expectStatus != "" && order.Data.Status != expectStatus {
		return store.ErrNoRows
	}
	for field, value := range fields {
		switch field {
		case "status":
			order.Data.Status = value.(string)
		case "requisites":
			order.Data.Requisites = value.(string)
		case "personal_id":
			order.Data.PersonalID = value.(string)
		case "operator_notes":
			order.Data.OperatorNotes = value.(string)
		case "received_sum":
			order.Data.ReceivedSum = value.(decimal.Decimal)
		case "completed_at":
			order.Data.CompletedAt = value.(time.Time)
		case "is_problematic":
			order.Data.IsProblematic = value.(bool)
		case "onlypays_id":
			order.Data.OnlypaysID = value.(string)
		case "pspware_id":
			order.Data.PspwareID = value.(string)
		case "nicepay_id":
			order.Data.NicepayID = value.(string)
		case "greengo_id":
			order.Data.GreengoID = value.(string)
		}
	}
	m.orders[id] = order
	return nil
}

func (m *memStore) OrderDeleteExpired(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, order := range m.orders {
		if order.Data.Status == model.OrderStatusWaiting &&
			order.Data.Requisites == "" &&
			order.Data.CreatedAt.Before(time.Now().Add(-ttl)) {
			delete(m.orders, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) TurnoverAdd(_ context.Context, _ int64, _ int64, _ int64, _ string) error {
	return nil
}

func (m *memStore) TurnoverTotal(_ context.Context, _ string) (model.TurnoverTotal, error) {
	return model.TurnoverTotal{}, nil
}

func (m *memStore) TurnoverByMirror(_ context.Context) ([]model.TurnoverTotal, error) {
	return nil, nil
}

func (m *memStore) TurnoverByPeriod(_ context.Context, _ int, _ string) (model.TurnoverTotal, error) {
	return model.TurnoverTotal{}, nil
}

func (m *memStore) Statistics(_ context.Context) (store.Statistics, error) {
	return store.Statistics{}, nil
}

// счетчик записей оборота
type fakeTurnover struct {
	mu   sync.Mutex
	adds int
}

func (f *fakeTurnover) Add(_ context.Context, _ int64, _ int64, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	return nil
}

func (f *fakeTurnover) Total(_ context.Context, _ string) (model.TurnoverTotal, error) {
	return model.TurnoverTotal{}, nil
}

func (f *fakeTurnover) ByMirror(_ context.Context) ([]model.TurnoverTotal, error) {
	return nil, nil
}

func (f *fakeTurnover) ByPeriod(_ context.Context, _ int, _ string) (model.TurnoverTotal, error) {
	return model.TurnoverTotal{}, nil
}

// счетчик уведомлений
type fakeNotifier struct {
	mu        sync.Mutex
	paid      int
	cancelled int
	problem   int
}

var _ notifier.Notifier = (*fakeNotifier)(nil)

func (f *fakeNotifier) RequisitesReady(_ context.Context, _ model.Order)       {}
func (f *fakeNotifier) RequisitesUnavailable(_ context.Context, _ model.Order) {}
func (f *fakeNotifier) OrderPaid(_ context.Context, _ model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid++
}
func (f *fakeNotifier) OrderCancelled(_ context.Context, _ model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}
func (f *fakeNotifier) OperatorOrderPaid(_ context.Context, _ model.Order) {}
func (f *fakeNotifier) OperatorProblem(_ context.Context, _ model.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.problem++
}

func newTestReconciler(t *testing.T) (*memStore, *fakeTurnover, *fakeNotifier, Reconciler) {
	t.Helper()
	st := newMemStore()
	tn := &fakeTurnover{}
	nt := &fakeNotifier{}
	return st, tn, nt, NewReconciler(st, tn, nt, zap.NewNop())
}

func waitingOrder(st *memStore) int64 {
	id, _ := st.OrderCreate(context.Background(), model.Order{
		Data: model.OrderData{
			UserID:      1,
			AmountRub:   10000,
			TotalAmount: 12000,
			Status:      model.OrderStatusWaiting,
			CreatedAt:   time.Now(),
		},
	})
	return id
}

func TestReconcileFinished(t *testing.T) {
	ctx := context.Background()
	st, tn, nt, rec := newTestReconciler(t)
	id := waitingOrder(st)

	err := rec.Reconcile(ctx, id, model.ProviderStatusFinished, decimal.NewFromInt(12000))
	require.NoError(t, err)

	order, err := st.OrderGet(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusPaidByClient, order.Data.Status)
	require.Equal(t, "12000", order.Data.ReceivedSum.String())
	require.Equal(t, 1, tn.adds)
	require.Equal(t, 1, nt.paid)
}

func TestReconcileDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	st, tn, nt, rec := newTestReconciler(t)
	id := waitingOrder(st)

	// callback и опрос статуса сообщают одно и то же событие
	require.NoError(t, rec.Reconcile(ctx, id, model.ProviderStatusFinished, decimal.NewFromInt(12000)))
	require.NoError(t, rec.Reconcile(ctx, id, model.ProviderStatusFinished, decimal.NewFromInt(12000)))

	order, _ := st.OrderGet(ctx, id)
	require.Equal(t, model.OrderStatusPaidByClient, order.Data.Status)

	// расчет выполняется ровно один раз
	require.Equal(t, 1, tn.adds)
	require.Equal(t, 1, nt.paid)
}

func TestReconcileConcurrentDelivery(t *testing.T) {
	ctx := context.Background()
	st, tn, nt, rec := newTestReconciler(t)
	id := waitingOrder(st)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Reconcile(ctx, id, model.ProviderStatusFinished, decimal.NewFromInt(12000))
		}()
	}
	wg.Wait()

	require.Equal(t, 1, tn.adds)
	require.Equal(t, 1, nt.paid)
}

// карта замков не растет с числом заявок:
// запись снимается, как только замок никому не нужен
func TestLockMapPruned(t *testing.T) {
	ctx := context.Background()
	st, _, _, rec := newTestReconciler(t)

	var ids []int64
	for range 5 {
		ids = append(ids, waitingOrder(st))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec.Reconcile(ctx, id, model.ProviderStatusFinished, decimal.NewFromInt(12000))
			}()
		}
	}
	wg.Wait()

	r := rec.(*reconciler)
	r.mapMutex.Lock()
	defer r.mapMutex.Unlock()
	require.Empty(t, r.ordersMutex)
}

func TestReconcileTerminalNoop(t *testing.T) {
	ctx := context.Background()
	st, tn, nt, rec := newTestReconciler(t)

	for _, status := range []string{model.OrderStatusCompleted, model.OrderStatusCancelled} {
		id, _ := st.OrderCreate(ctx, model.Order{
			Data: model.OrderData{Status: status, TotalAmount: 12000},
		})

		require.NoError(t, rec.Reconcile(ctx, id, model.ProviderStatusFinished, decimal.NewFromInt(12000)))
		require.NoError(t, rec.Reconcile(ctx, id, model.ProviderStatusCancelled, decimal.Zero))

		order, _ := st.OrderGet(ctx, id)
		require.Equal(t, status, order.Data.Status)
	}
	require.Equal(t, 0, tn.adds)
	require.Equal(t, 0, nt.paid)
	require.Equal(t, 0, nt.cancelled)
}

func TestReconcileCancelled(t *testing.T) {
	ctx := context.Background()
	st, _, nt, rec := newTestReconciler(t)
	id := waitingOrder(st)

	require.NoError(t, rec.Reconcile(ctx, id, model.ProviderStatusCancelled, decimal.Zero))

	order, _ := st.OrderGet(ctx, id)
	require.Equal(t, model.OrderStatusCancelled, order.Data.Status)
	require.Equal(t, 1, nt.cancelled)

	// отмена после оплаты не проходит
	id2 := waitingOrder(st)
	require.NoError(t, rec.Reconcile(ctx, id2, model.ProviderStatusFinished, decimal.Zero))
	require.NoError(t, rec.Reconcile(ctx, id2, model.ProviderStatusCancelled, decimal.Zero))
	order2, _ := st.OrderGet(ctx, id2)
	require.Equal(t, model.OrderStatusPaidByClient, order2.Data.Status)
}

func TestReconcileNotFound(t *testing.T) {
	ctx := context.Background()
	_, _, _, rec := newTestReconciler(t)

	err := rec.Reconcile(ctx, 404, model.ProviderStatusFinished, decimal.Zero)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOperatorCancel(t *testing.T) {
	ctx := context.Background()
	st, _, _, rec := newTestReconciler(t)
	id := waitingOrder(st)

	require.NoError(t, rec.Cancel(ctx, id))
	order, _ := st.OrderGet(ctx, id)
	require.Equal(t, model.OrderStatusCancelled, order.Data.Status)

	// из терминального статуса отмена - ошибка, не no-op
	err := rec.Cancel(ctx, id)
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	st, _, _, rec := newTestReconciler(t)
	id := waitingOrder(st)

	// завершение возможно только после оплаты
	require.ErrorIs(t, rec.Complete(ctx, id), ErrStateConflict)

	require.NoError(t, rec.Reconcile(ctx, id, model.ProviderStatusFinished, decimal.Zero))
	require.NoError(t, rec.Complete(ctx, id))

	order, _ := st.OrderGet(ctx, id)
	require.Equal(t, model.OrderStatusCompleted, order.Data.Status)
	require.False(t, order.Data.CompletedAt.IsZero())
}

func TestMarkProblem(t *testing.T) {
	ctx := context.Background()
	st, _, nt, rec := newTestReconciler(t)
	id := waitingOrder(st)

	require.NoError(t, rec.MarkProblem(ctx, id))
	order, _ := st.OrderGet(ctx, id)
	require.Equal(t, model.OrderStatusProblem, order.Data.Status)
	require.True(t, order.Data.IsProblematic)
	require.Equal(t, 1, nt.problem)
}

func TestAddNote(t *testing.T) {
	ctx := context.Background()
	st, _, _, rec := newTestReconciler(t)
	id := waitingOrder(st)

	require.NoError(t, rec.Cancel(ctx, id))

	// заметка разрешена даже на терминальном статусе
	require.NoError(t, rec.AddNote(ctx, id, "клиент подтвердил отмену"))
	require.NoError(t, rec.AddNote(ctx, id, "возврат не требуется"))

	order, _ := st.OrderGet(ctx, id)
	require.Equal(t, "клиент подтвердил отмену\nвозврат не требуется", order.Data.OperatorNotes)
}

func TestFinancialTermsImmutable(t *testing.T) {
	ctx := context.Background()
	st, _, _, rec := newTestReconciler(t)
	id := waitingOrder(st)

	before, _ := st.OrderGet(ctx, id)

	require.NoError(t, rec.Reconcile(ctx, id, model.ProviderStatusFinished, decimal.NewFromInt(11999)))
	require.NoError(t, rec.Complete(ctx, id))
	require.NoError(t, rec.AddNote(ctx, id, "готово"))

	after, _ := st.OrderGet(ctx, id)
	require.Equal(t, before.Data.TotalAmount, after.Data.TotalAmount)
	require.Equal(t, before.Data.AmountRub, after.Data.AmountRub)
	require.True(t, before.Data.Rate.Equal(after.Data.Rate))
}
