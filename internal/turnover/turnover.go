package turnover

import (
	"context"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/store"
)

// Turnover - журнал оборота. Запись создается один раз при подтверждении
// оплаты, обратно в машину состояний заявки не читается
type Turnover interface {
	Add(ctx context.Context, orderID int64, userID int64, amount int64) error
	Total(ctx context.Context, mirrorID string) (model.TurnoverTotal, error)
	ByMirror(ctx context.Context) ([]model.TurnoverTotal, error)
	ByPeriod(ctx context.Context, days int, mirrorID string) (model.TurnoverTotal, error)
}

type turnover struct {
	store store.Store
}

func NewTurnover(store store.Store) Turnover {
	return &turnover{store: store}
}

func (turnover *turnover) Add(ctx context.Context, orderID int64, userID int64, amount int64) error {
	return turnover.store.TurnoverAdd(ctx, orderID, userID, amount, model.TurnoverStatusPaid)
}

func (turnover *turnover) Total(ctx context.Context, mirrorID string) (model.TurnoverTotal, error) {
	return turnover.store.TurnoverTotal(ctx, mirrorID)
}

func (turnover *turnover) ByMirror(ctx context.Context) ([]model.TurnoverTotal, error) {
	return turnover.store.TurnoverByMirror(ctx)
}

func (turnover *turnover) ByPeriod(ctx context.Context, days int, mirrorID string) (model.TurnoverTotal, error) {
	return turnover.store.TurnoverByPeriod(ctx, days, mirrorID)
}
