package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/store/config"
)

type Store interface {
	OrderCreate(ctx context.Context, order model.Order) (int64, error)
	OrderGet(ctx context.Context, id int64) (model.Order, error)
	OrderGetByPersonalID(ctx context.Context, personalID string) (model.Order, error)
	OrdersGetByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error)
	OrderUpdate(ctx context.Context, id int64, fields map[string]any) error
	OrderUpdateIfStatus(ctx context.Context, id int64, status string, fields map[string]any) error
	OrderDeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)
	TurnoverAdd(ctx context.Context, orderID int64, userID int64, amount int64, status string) error
	TurnoverTotal(ctx context.Context, mirrorID string) (model.TurnoverTotal, error)
	TurnoverByMirror(ctx context.Context) ([]model.TurnoverTotal, error)
	TurnoverByPeriod(ctx context.Context, days int, mirrorID string) (model.TurnoverTotal, error)
	Statistics(ctx context.Context) (Statistics, error)
}

var ErrNoRows = errors.New("no rows")

// Поля заявки, которые разрешено менять после создания.
// Финансовые условия фиксируются при создании и не пересчитываются
var orderUpdateAllowed = map[string]bool{
	"onlypays_id":    true,
	"pspware_id":     true,
	"nicepay_id":     true,
	"greengo_id":     true,
	"status":         true,
	"requisites":     true,
	"personal_id":    true,
	"received_sum":   true,
	"operator_notes": true,
	"btc_address":    true,
	"completed_at":   true,
	"is_problematic": true,
}

type store struct {
	database *sql.DB
	mirrorID string
	zaplog   *zap.Logger
}

func NewStore(cfg config.Config, zaplog *zap.Logger) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	s := &store{
		database: db,
		mirrorID: cfg.MirrorID,
		zaplog:   zaplog,
	}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB оборачивает готовое соединение, таблицы не создает.
// Используется в тестах
func NewStoreWithDB(db *sql.DB, mirrorID string, zaplog *zap.Logger) Store {
	return &store{
		database: db,
		mirrorID: mirrorID,
		zaplog:   zaplog,
	}
}

func (store *store) createTables() error {
	// Таблица заявок.
	// Одна строка на заявку, у каждого провайдера своя колонка для его номера
	_, err := store.database.Exec(
		"CREATE TABLE IF NOT EXISTS orders (" +
			" id BIGSERIAL PRIMARY KEY," +
			" user_id BIGINT NOT NULL," +
			" onlypays_id TEXT NOT NULL DEFAULT ''," +
			" pspware_id TEXT NOT NULL DEFAULT ''," +
			" nicepay_id TEXT NOT NULL DEFAULT ''," +
			" greengo_id TEXT NOT NULL DEFAULT ''," +
			" amount_rub BIGINT NOT NULL," +
			" amount_btc NUMERIC(20, 8) NOT NULL DEFAULT 0," +
			" btc_address TEXT NOT NULL DEFAULT ''," +
			" rate NUMERIC(20, 2) NOT NULL," +
			" total_amount BIGINT NOT NULL," +
			" payment_type TEXT NOT NULL," +
			" status TEXT NOT NULL DEFAULT 'waiting'," +
			" created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP," +
			" completed_at TIMESTAMP," +
			" requisites TEXT NOT NULL DEFAULT ''," +
			" received_sum NUMERIC(20, 2) NOT NULL DEFAULT 0," +
			" is_problematic BOOLEAN NOT NULL DEFAULT FALSE," +
			" operator_notes TEXT NOT NULL DEFAULT ''," +
			" personal_id TEXT NOT NULL DEFAULT ''," +
			" display_id TEXT NOT NULL DEFAULT ''" +
			" );")
	if err != nil {
		return err
	}

	// Журнал оборота.
	// Записи не редактируются и в машину состояний заявки не читаются
	_, err = store.database.Exec(
		"CREATE TABLE IF NOT EXISTS mirror_turnover (" +
			" id BIGSERIAL PRIMARY KEY," +
			" mirror_id TEXT NOT NULL," +
			" order_id BIGINT NOT NULL," +
			" user_id BIGINT NOT NULL," +
			" amount BIGINT NOT NULL," +
			" status TEXT NOT NULL," +
			" created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP" +
			" );")
	if err != nil {
		return err
	}

	return nil
}

const orderColumns = "id, user_id, onlypays_id, pspware_id, nicepay_id, greengo_id," +
	" amount_rub, amount_btc, btc_address, rate, total_amount, payment_type," +
	" status, created_at, completed_at, requisites, received_sum," +
	" is_problematic, operator_notes, personal_id, display_id"

func (store *store) OrderCreate(ctx context.Context, order model.Order) (int64, error) {
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO orders (user_id, amount_rub, amount_btc, btc_address, rate,"+
			" total_amount, payment_type, status, created_at, display_id)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)"+
			" RETURNING id",
		order.Data.UserID,
		order.Data.AmountRub,
		order.Data.AmountBtc,
		order.Data.BtcAddress,
		order.Data.Rate,
		order.Data.TotalAmount,
		order.Data.PaymentType,
		order.Data.Status,
		order.Data.CreatedAt,
		order.Data.DisplayID)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (model.Order, error) {
	var order model.Order
	var completedAt sql.NullTime
	err := row.Scan(&order.ID,
		&order.Data.UserID,
		&order.Data.OnlypaysID,
		&order.Data.PspwareID,
		&order.Data.NicepayID,
		&order.Data.GreengoID,
		&order.Data.AmountRub,
		&order.Data.AmountBtc,
		&order.Data.BtcAddress,
		&order.Data.Rate,
		&order.Data.TotalAmount,
		&order.Data.PaymentType,
		&order.Data.Status,
		&order.Data.CreatedAt,
		&completedAt,
		&order.Data.Requisites,
		&order.Data.ReceivedSum,
		&order.Data.IsProblematic,
		&order.Data.OperatorNotes,
		&order.Data.PersonalID,
		&order.Data.DisplayID)
	if err != nil {
		return model.Order{}, err
	}
	if completedAt.Valid {
		order.Data.CompletedAt = completedAt.Time
	}
	return order, nil
}

func (store *store) OrderGet(ctx context.Context, id int64) (model.Order, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+orderColumns+
			" FROM orders"+
			" WHERE id = $1",
		id)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	return order, nil
}

func (store *store) OrderGetByPersonalID(ctx context.Context, personalID string) (model.Order, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+orderColumns+
			" FROM orders"+
			" WHERE personal_id = $1",
		personalID)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	return order, nil
}

func (store *store) OrdersGetByUser(ctx context.Context, userID int64, limit int) ([]model.Order, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+orderColumns+
			" FROM orders"+
			" WHERE user_id = $1"+
			" ORDER BY created_at DESC"+
			" LIMIT $2",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// OrderUpdate меняет только поля из белого списка.
// Попытка изменить запрещенное поле пишется в лог и пропускается
func (store *store) OrderUpdate(ctx context.Context, id int64, fields map[string]any) error {
	return store.orderUpdate(ctx, id, "", fields)
}

// OrderUpdateIfStatus меняет заявку только если она еще в ожидаемом
// статусе. Снимает гонку записи с параллельной отменой:
// несовпадение статуса - ErrNoRows, ничего не записано
func (store *store) OrderUpdateIfStatus(ctx context.Context, id int64, status string, fields map[string]any) error {
	return store.orderUpdate(ctx, id, status, fields)
}

func (store *store) orderUpdate(ctx context.Context, id int64, expectStatus string, fields map[string]any) error {
	var setClause []string
	var values []any
	i := 1
	for _, field := range []string{
		"onlypays_id", "pspware_id", "nicepay_id", "greengo_id",
		"status", "requisites", "personal_id", "received_sum",
		"operator_notes", "btc_address", "completed_at", "is_problematic",
	} {
		value, ok := fields[field]
		if !ok {
			continue
		}
		setClause = append(setClause, fmt.Sprintf("%s = $%d", field, i))
		values = append(values, value)
		i++
	}
	for field := range fields {
		if !orderUpdateAllowed[field] {
			store.zaplog.Warn("попытка изменить запрещенное поле заявки",
				zap.Int64("order_id", id),
				zap.String("field", field))
		}
	}
	if len(setClause) == 0 {
		return nil
	}

	values = append(values, id)
	query := fmt.Sprintf("UPDATE orders SET %s WHERE id = $%d", strings.Join(setClause, ", "), i)
	if expectStatus != "" {
		i++
		query += fmt.Sprintf(" AND status = $%d", i)
		values = append(values, expectStatus)
	}

	result, err := store.database.ExecContext(ctx, query, values...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

// OrderDeleteExpired удаляет заявки, которые так и не получили реквизиты.
// Вызывается периодической уборкой, не проверкой на чтении
func (store *store) OrderDeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	result, err := store.database.ExecContext(ctx,
		"DELETE FROM orders"+
			" WHERE status = $1"+
			"   AND requisites = ''"+
			"   AND created_at < $2",
		model.OrderStatusWaiting,
		time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (store *store) TurnoverAdd(ctx context.Context, orderID int64, userID int64, amount int64, status string) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO mirror_turnover (mirror_id, order_id, user_id, amount, status, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6)",
		store.mirrorID,
		orderID,
		userID,
		amount,
		status,
		time.Now())
	if err != nil {
		return err
	}
	store.zaplog.Info("оборот записан",
		zap.String("mirror_id", store.mirrorID),
		zap.Int64("order_id", orderID),
		zap.Int64("amount", amount),
		zap.String("status", status))
	return nil
}

func (store *store) TurnoverTotal(ctx context.Context, mirrorID string) (model.TurnoverTotal, error) {
	var query string
	var args []any
	if mirrorID != "" {
		query = "SELECT $1::text, COALESCE(SUM(amount), 0), COUNT(*)" +
			" FROM mirror_turnover" +
			" WHERE mirror_id = $1 AND status = $2"
		args = []any{mirrorID, model.TurnoverStatusPaid}
	} else {
		query = "SELECT '', COALESCE(SUM(amount), 0), COUNT(*)" +
			" FROM mirror_turnover" +
			" WHERE status = $1"
		args = []any{model.TurnoverStatusPaid}
	}

	var total model.TurnoverTotal
	row := store.database.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&total.MirrorID, &total.TotalAmount, &total.TotalOrders); err != nil {
		return model.TurnoverTotal{}, err
	}
	return total, nil
}

func (store *store) TurnoverByMirror(ctx context.Context) ([]model.TurnoverTotal, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT mirror_id, COALESCE(SUM(amount), 0), COUNT(*)"+
			" FROM mirror_turnover"+
			" WHERE status = $1"+
			" GROUP BY mirror_id"+
			" ORDER BY 2 DESC",
		model.TurnoverStatusPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []model.TurnoverTotal
	for rows.Next() {
		var total model.TurnoverTotal
		if err := rows.Scan(&total.MirrorID, &total.TotalAmount, &total.TotalOrders); err != nil {
			return nil, err
		}
		totals = append(totals, total)
	}
	return totals, rows.Err()
}

func (store *store) TurnoverByPeriod(ctx context.Context, days int, mirrorID string) (model.TurnoverTotal, error) {
	since := time.Now().AddDate(0, 0, -days)

	var query string
	var args []any
	if mirrorID != "" {
		query = "SELECT $1::text, COALESCE(SUM(amount), 0), COUNT(*)" +
			" FROM mirror_turnover" +
			" WHERE mirror_id = $1 AND status = $2 AND created_at >= $3"
		args = []any{mirrorID, model.TurnoverStatusPaid, since}
	} else {
		query = "SELECT '', COALESCE(SUM(amount), 0), COUNT(*)" +
			" FROM mirror_turnover" +
			" WHERE status = $1 AND created_at >= $2"
		args = []any{model.TurnoverStatusPaid, since}
	}

	var total model.TurnoverTotal
	row := store.database.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&total.MirrorID, &total.TotalAmount, &total.TotalOrders); err != nil {
		return model.TurnoverTotal{}, err
	}
	return total, nil
}

// Statistics - сводка для административного отчета
type Statistics struct {
	TotalOrders     int64
	CompletedOrders int64
	TotalVolume     int64
	TodayOrders     int64
}

func (store *store) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics

	row := store.database.QueryRowContext(ctx,
		"SELECT COUNT(*),"+
			" COUNT(*) FILTER (WHERE status = $1),"+
			" COALESCE(SUM(total_amount) FILTER (WHERE status = $1), 0),"+
			" COUNT(*) FILTER (WHERE created_at::date = CURRENT_DATE)"+
			" FROM orders",
		model.OrderStatusCompleted)
	if err := row.Scan(&stats.TotalOrders, &stats.CompletedOrders, &stats.TotalVolume, &stats.TodayOrders); err != nil {
		return Statistics{}, err
	}
	return stats, nil
}
