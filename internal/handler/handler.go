package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/handler/config"
	"github.com/iurnickita/paybroker/internal/logger"
	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/reconciler"
	"github.com/iurnickita/paybroker/internal/service"
	"github.com/iurnickita/paybroker/internal/store"
)

// HTTP-поверхность callback провайдеров. У каждого провайдера своя
// форма payload, все сводятся в один вызов reconcile

func Serve(cfg config.Config, service service.Service, reconciler reconciler.Reconciler,
	store store.Store, zaplog *zap.Logger) error {

	h := newHandler(cfg, service, reconciler, store, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	return srv.ListenAndServe()
}

type handler struct {
	cfg        config.Config
	service    service.Service
	reconciler reconciler.Reconciler
	store      store.Store
	zaplog     *zap.Logger
}

func newHandler(cfg config.Config, service service.Service, reconciler reconciler.Reconciler,
	store store.Store, zaplog *zap.Logger) *handler {

	return &handler{
		cfg:        cfg,
		service:    service,
		reconciler: reconciler,
		store:      store,
		zaplog:     zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /callbacks/onlypays", logger.RequestLogMdlw(h.callbackMdlw(h.OnlypaysCallback), h.zaplog))
	mux.HandleFunc("POST /callbacks/pspware", logger.RequestLogMdlw(h.callbackMdlw(h.PspwareCallback), h.zaplog))
	mux.HandleFunc("POST /callbacks/greengo", logger.RequestLogMdlw(h.callbackMdlw(h.GreengoCallback), h.zaplog))
	mux.HandleFunc("POST /callbacks/nicepay", logger.RequestLogMdlw(h.callbackMdlw(h.NicepayCallback), h.zaplog))
	mux.HandleFunc("GET /health", logger.RequestLogMdlw(h.Health, h.zaplog))

	return mux
}

// callbackMdlw проверяет подпись callback, если секрет настроен
func (h *handler) callbackMdlw(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.CallbackSecret != "" {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" {
				httpError(w, http.StatusUnauthorized, "missing token")
				return
			}
			_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(h.cfg.CallbackSecret), nil
			})
			if err != nil {
				httpError(w, http.StatusUnauthorized, "invalid token")
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func httpError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

func httpOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// resolveOrder находит заявку по personal_id callback:
// обычно это внутренний номер, иначе номер у провайдера
func (h *handler) resolveOrder(r *http.Request, personalID string) (model.Order, error) {
	if id, err := strconv.ParseInt(personalID, 10, 64); err == nil {
		order, err := h.store.OrderGet(r.Context(), id)
		if err == nil {
			return order, nil
		}
	}
	return h.store.OrderGetByPersonalID(r.Context(), personalID)
}

func (h *handler) reconcile(w http.ResponseWriter, r *http.Request, personalID string, status string, sum decimal.Decimal) {
	order, err := h.resolveOrder(r, personalID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			h.zaplog.Error("callback: заявка не найдена", zap.String("personal_id", personalID))
			httpError(w, http.StatusBadRequest, "order not found")
			return
		}
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.reconciler.Reconcile(r.Context(), order.ID, status, sum); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpOK(w)
}

// OnlyPays и PSPWare: { id, status, personal_id, received_sum }
type opCallback struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	PersonalID  string          `json:"personal_id"`
	ReceivedSum decimal.Decimal `json:"received_sum"`
}

func (h *handler) OnlypaysCallback(w http.ResponseWriter, r *http.Request) {
	var cb opCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.reconcile(w, r, cb.PersonalID, normalizeOpStatus(cb.Status), cb.ReceivedSum)
}

func (h *handler) PspwareCallback(w http.ResponseWriter, r *http.Request) {
	var cb opCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.reconcile(w, r, cb.PersonalID, normalizeOpStatus(cb.Status), cb.ReceivedSum)
}

// Greengo: { order_status, personal_id, amount_payable }
type greengoCallback struct {
	OrderStatus   string          `json:"order_status"`
	PersonalID    string          `json:"personal_id"`
	AmountPayable decimal.Decimal `json:"amount_payable"`
}

func (h *handler) GreengoCallback(w http.ResponseWriter, r *http.Request) {
	var cb greengoCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	var status string
	switch cb.OrderStatus {
	case "completed":
		status = model.ProviderStatusFinished
	case "canceled", "cancelled":
		status = model.ProviderStatusCancelled
	default:
		status = model.ProviderStatusPending
	}
	h.reconcile(w, r, cb.PersonalID, status, cb.AmountPayable)
}

// NicePay: { merchantOrderId, status, amount }
type nicepayCallback struct {
	MerchantOrderID string          `json:"merchantOrderId"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
}

func (h *handler) NicepayCallback(w http.ResponseWriter, r *http.Request) {
	var cb nicepayCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	var status string
	switch cb.Status {
	case "PAID":
		status = model.ProviderStatusFinished
	case "CANCELLED":
		status = model.ProviderStatusCancelled
	default:
		status = model.ProviderStatusPending
	}
	h.reconcile(w, r, cb.MerchantOrderID, status, cb.Amount)
}

func normalizeOpStatus(status string) string {
	switch status {
	case "finished":
		return model.ProviderStatusFinished
	case "cancelled", "canceled":
		return model.ProviderStatusCancelled
	default:
		return model.ProviderStatusPending
	}
}

type healthJSONResponse struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Health опрашивает всех провайдеров. Результат справочный
func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	results := h.service.HealthCheck(r.Context())

	var resultsJSON []healthJSONResponse
	for name, err := range results {
		res := healthJSONResponse{Provider: name, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
		}
		resultsJSON = append(resultsJSON, res)
	}

	responseJSON, err := json.Marshal(resultsJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJSON)
}
