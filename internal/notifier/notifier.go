package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
)

// Notifier доставляет сообщения клиенту и оператору.
// Движок передает снимок заявки и ничего не знает о транспорте
type Notifier interface {
	RequisitesReady(ctx context.Context, order model.Order)
	RequisitesUnavailable(ctx context.Context, order model.Order)
	OrderPaid(ctx context.Context, order model.Order)
	OrderCancelled(ctx context.Context, order model.Order)
	OperatorOrderPaid(ctx context.Context, order model.Order)
	OperatorProblem(ctx context.Context, order model.Order)
}

// Заглушка: пишет уведомления в лог. Чатовый транспорт подключается снаружи

type logNotifier struct {
	zaplog *zap.Logger
}

func NewLogNotifier(zaplog *zap.Logger) Notifier {
	return &logNotifier{zaplog: zaplog}
}

func (n *logNotifier) notify(event string, order model.Order) {
	n.zaplog.Info(event,
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.Data.UserID),
		zap.String("display_id", order.Data.DisplayID),
		zap.String("status", order.Data.Status))
}

func (n *logNotifier) RequisitesReady(_ context.Context, order model.Order) {
	n.notify("реквизиты получены", order)
}

func (n *logNotifier) RequisitesUnavailable(_ context.Context, order model.Order) {
	n.notify("реквизиты временно недоступны", order)
}

func (n *logNotifier) OrderPaid(_ context.Context, order model.Order) {
	n.notify("заявка оплачена", order)
}

func (n *logNotifier) OrderCancelled(_ context.Context, order model.Order) {
	n.notify("заявка отменена", order)
}

func (n *logNotifier) OperatorOrderPaid(_ context.Context, order model.Order) {
	n.notify("оператор: заявка оплачена", order)
}

func (n *logNotifier) OperatorProblem(_ context.Context, order model.Order) {
	n.notify("оператор: проблемная заявка", order)
}
