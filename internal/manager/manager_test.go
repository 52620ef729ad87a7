package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/provider"
)

// фейковый адаптер для проверки перебора
type fakeAdapter struct {
	name       string
	createErr  error
	calls      int
	lastMethod string
}

func (f *fakeAdapter) CreateOrder(_ context.Context, req provider.CreateRequest) (model.ProviderOrder, error) {
	f.calls++
	f.lastMethod = req.Method
	if f.createErr != nil {
		return model.ProviderOrder{}, f.createErr
	}
	return model.ProviderOrder{ProviderID: f.name + "-1", Requisite: "2200000000000000"}, nil
}

func (f *fakeAdapter) GetStatus(_ context.Context, providerOrderID string) (model.ProviderStatus, error) {
	return model.ProviderStatus{ProviderID: providerOrderID, Status: model.ProviderStatusFinished}, nil
}

func (f *fakeAdapter) Cancel(_ context.Context, _ string) error { return nil }

func (f *fakeAdapter) HealthCheck(_ context.Context) error { return f.createErr }

func TestManagerFailover(t *testing.T) {
	ctx := context.Background()

	// провайдер A падает, провайдер B отвечает
	a := &fakeAdapter{name: "A", createErr: &provider.ProviderError{Provider: "A", Message: "network error", Retryable: true}}
	b := &fakeAdapter{name: "B"}
	c := &fakeAdapter{name: "C"}

	mgr := NewManager([]Entry{
		{Name: "A", Adapter: a},
		{Name: "B", Adapter: b},
		{Name: "C", Adapter: c},
	}, zap.NewNop())

	order, err := mgr.CreateOrder(ctx, 10000, "sbp", "1", false, "")
	require.NoError(t, err)
	require.Equal(t, "B", order.Provider)
	require.Equal(t, "B-1", order.ProviderID)

	// после первого успеха перебор останавливается
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
	require.Equal(t, 0, c.calls)
}

func TestManagerExhausted(t *testing.T) {
	ctx := context.Background()

	a := &fakeAdapter{name: "A", createErr: &provider.ProviderError{Provider: "A", Message: "down", Retryable: true}}
	b := &fakeAdapter{name: "B", createErr: &provider.ProviderError{Provider: "B", Message: "down", Retryable: true}}

	mgr := NewManager([]Entry{
		{Name: "A", Adapter: a},
		{Name: "B", Adapter: b},
	}, zap.NewNop())

	_, err := mgr.CreateOrder(ctx, 10000, "sbp", "1", false, "")
	require.ErrorIs(t, err, ErrNoProvider)
	require.Contains(t, err.Error(), "A: ")
	require.Contains(t, err.Error(), "B: ")
}

func TestManagerSellOrders(t *testing.T) {
	ctx := context.Background()

	// заявки на продажу принимает только A
	a := &fakeAdapter{name: "A", createErr: errors.New("down")}
	b := &fakeAdapter{name: "B"}

	mgr := NewManager([]Entry{
		{Name: "A", Adapter: a, SellOrders: true},
		{Name: "B", Adapter: b},
	}, zap.NewNop())

	_, err := mgr.CreateOrder(ctx, 10000, "sbp", "1", true, "")
	require.ErrorIs(t, err, ErrNoProvider)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 0, b.calls)
}

func TestManagerMinAmount(t *testing.T) {
	ctx := context.Background()

	a := &fakeAdapter{name: "A"}

	mgr := NewManager([]Entry{
		{Name: "A", Adapter: a, MinAmount: 500},
	}, zap.NewNop())

	_, err := mgr.CreateOrder(ctx, 400, "sbp", "1", false, "")
	require.ErrorIs(t, err, ErrNoProvider)
	require.Equal(t, 0, a.calls)

	_, err = mgr.CreateOrder(ctx, 500, "sbp", "1", false, "")
	require.NoError(t, err)
}

func TestManagerMethodMap(t *testing.T) {
	ctx := context.Background()

	a := &fakeAdapter{name: "A"}
	b := &fakeAdapter{name: "B"}

	mgr := NewManager([]Entry{
		{Name: "A", Adapter: a, MethodMap: map[string]string{"sbp": "sbp_rub"}},
		{Name: "B", Adapter: b},
	}, zap.NewNop())

	// метод транслируется через таблицу провайдера
	_, err := mgr.CreateOrder(ctx, 10000, "sbp", "1", false, "")
	require.NoError(t, err)
	require.Equal(t, "sbp_rub", a.lastMethod)

	// без маппинга метод уходит как есть
	a.createErr = errors.New("down")
	_, err = mgr.CreateOrder(ctx, 10000, "card", "1", false, "")
	require.NoError(t, err)
	require.Equal(t, "card", a.lastMethod)
	require.Equal(t, "card", b.lastMethod)
}

func TestManagerValidationFailFast(t *testing.T) {
	ctx := context.Background()

	// ошибка валидации не переключает на следующего провайдера
	a := &fakeAdapter{name: "A", createErr: &provider.ValidationError{Field: "method", Value: "bad"}}
	b := &fakeAdapter{name: "B"}

	mgr := NewManager([]Entry{
		{Name: "A", Adapter: a},
		{Name: "B", Adapter: b},
	}, zap.NewNop())

	_, err := mgr.CreateOrder(ctx, 10000, "bad", "1", false, "")
	var verr *provider.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, 0, b.calls)
}

func TestManagerGetStatusUnknownProvider(t *testing.T) {
	ctx := context.Background()

	mgr := NewManager([]Entry{
		{Name: "A", Adapter: &fakeAdapter{name: "A"}},
	}, zap.NewNop())

	_, err := mgr.GetStatus(ctx, "1", "Unknown")
	require.ErrorIs(t, err, provider.ErrNotFound)

	err = mgr.Cancel(ctx, "1", "Unknown")
	require.ErrorIs(t, err, provider.ErrNotFound)
}

func TestManagerHealthCheck(t *testing.T) {
	ctx := context.Background()

	a := &fakeAdapter{name: "A"}
	b := &fakeAdapter{name: "B", createErr: errors.New("down")}

	mgr := NewManager([]Entry{
		{Name: "A", Adapter: a},
		{Name: "B", Adapter: b},
	}, zap.NewNop())

	results := mgr.HealthCheck(ctx)
	require.Len(t, results, 2)
	require.NoError(t, results["A"])
	require.Error(t, results["B"])
}
