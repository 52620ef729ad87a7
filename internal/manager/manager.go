package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/provider"
)

// Manager перебирает провайдеров в порядке регистрации и возвращает
// первый успешный результат. Порядок фиксированный, без балансировки
type Manager interface {
	CreateOrder(ctx context.Context, amount int64, method string, personalID string, isSell bool, wallet string) (model.ProviderOrder, error)
	GetStatus(ctx context.Context, providerOrderID string, providerName string) (model.ProviderStatus, error)
	Cancel(ctx context.Context, providerOrderID string, providerName string) error
	HealthCheck(ctx context.Context) map[string]error
}

var ErrNoProvider = errors.New("no provider available")

// Entry - провайдер с его особенностями: таблица методов,
// минимальная сумма, допуск к заявкам на продажу
type Entry struct {
	Name      string
	Adapter   provider.Adapter
	MethodMap map[string]string
	MinAmount int64
	// Заявки на продажу принимает не каждый провайдер
	SellOrders bool
}

type manager struct {
	entries []Entry
	zaplog  *zap.Logger
}

// NewManager собирает реестр один раз при старте.
// Добавление провайдера - новый адаптер и новая запись здесь
func NewManager(entries []Entry, zaplog *zap.Logger) Manager {
	return &manager{
		entries: entries,
		zaplog:  zaplog,
	}
}

func (m *manager) CreateOrder(ctx context.Context, amount int64, method string, personalID string, isSell bool, wallet string) (model.ProviderOrder, error) {
	var failures []string

	for _, entry := range m.entries {
		if isSell && !entry.SellOrders {
			m.zaplog.Debug("пропуск провайдера для продажи", zap.String("provider", entry.Name))
			continue
		}
		if entry.MinAmount > 0 && amount < entry.MinAmount {
			m.zaplog.Warn("сумма ниже минимума провайдера",
				zap.String("provider", entry.Name),
				zap.Int64("amount", amount),
				zap.Int64("min_amount", entry.MinAmount))
			continue
		}

		// трансляция метода; без маппинга метод уходит как есть
		mapped := method
		if mm, ok := entry.MethodMap[method]; ok {
			mapped = mm
		}

		m.zaplog.Info("попытка создания заявки",
			zap.String("provider", entry.Name),
			zap.Int64("amount", amount),
			zap.String("method", mapped),
			zap.String("personal_id", personalID))

		order, err := entry.Adapter.CreateOrder(ctx, provider.CreateRequest{
			Amount:     amount,
			Method:     mapped,
			PersonalID: personalID,
			IsSell:     isSell,
			Wallet:     wallet,
		})
		if err != nil {
			// ошибка валидации не лечится переключением провайдера
			var verr *provider.ValidationError
			if errors.As(err, &verr) {
				return model.ProviderOrder{}, err
			}
			m.zaplog.Warn("провайдер не смог создать заявку",
				zap.String("provider", entry.Name),
				zap.Error(err))
			failures = append(failures, fmt.Sprintf("%s: %s", entry.Name, err))
			continue
		}

		order.Provider = entry.Name
		m.zaplog.Info("заявка создана",
			zap.String("provider", entry.Name),
			zap.String("provider_id", order.ProviderID))
		return order, nil
	}

	m.zaplog.Error("все платежные провайдеры не сработали",
		zap.Strings("failures", failures))
	if len(failures) == 0 {
		return model.ProviderOrder{}, ErrNoProvider
	}
	return model.ProviderOrder{}, fmt.Errorf("%w: %s", ErrNoProvider, strings.Join(failures, "; "))
}

// GetStatus не ищет заявку по всем провайдерам: имя берется из заявки
func (m *manager) GetStatus(ctx context.Context, providerOrderID string, providerName string) (model.ProviderStatus, error) {
	entry, err := m.entry(providerName)
	if err != nil {
		return model.ProviderStatus{}, err
	}

	status, err := entry.Adapter.GetStatus(ctx, providerOrderID)
	if err != nil {
		m.zaplog.Warn("ошибка проверки статуса",
			zap.String("provider", providerName),
			zap.String("provider_id", providerOrderID),
			zap.Error(err))
		return model.ProviderStatus{}, err
	}
	status.Provider = providerName
	return status, nil
}

func (m *manager) Cancel(ctx context.Context, providerOrderID string, providerName string) error {
	entry, err := m.entry(providerName)
	if err != nil {
		return err
	}

	if err := entry.Adapter.Cancel(ctx, providerOrderID); err != nil {
		m.zaplog.Warn("ошибка отмены заявки",
			zap.String("provider", providerName),
			zap.String("provider_id", providerOrderID),
			zap.Error(err))
		return err
	}
	return nil
}

// HealthCheck опрашивает всех. Результат справочный:
// упавший провайдер из ротации не выводится
func (m *manager) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error, len(m.entries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range m.entries {
		g.Go(func() error {
			err := entry.Adapter.HealthCheck(gctx)
			mu.Lock()
			results[entry.Name] = err
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}

func (m *manager) entry(providerName string) (Entry, error) {
	for _, entry := range m.entries {
		if entry.Name == providerName {
			return entry, nil
		}
	}
	m.zaplog.Error("провайдер не найден", zap.String("provider", providerName))
	return Entry{}, fmt.Errorf("provider %s: %w", providerName, provider.ErrNotFound)
}
