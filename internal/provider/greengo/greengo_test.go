package greengo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/paybroker/internal/model"
	"github.com/iurnickita/paybroker/internal/provider"
	"github.com/iurnickita/paybroker/internal/provider/config"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Greengo {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(config.Config{
		GreengoBaseURL:   server.URL,
		GreengoAPISecret: "secret-1",
		Timeout:          time.Second,
	}, zap.NewNop())
}

func TestCreateOrder(t *testing.T) {
	var gotBody map[string]any
	var gotSecret string

	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order/create", r.URL.Path)
		gotSecret = r.Header.Get("Api-Secret")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"response": "success",
			"items": []map[string]any{
				{"order_id": "gg-3", "wallet_payment": "2200 5555"},
			},
		})
	})

	po, err := adapter.CreateOrder(context.Background(), provider.CreateRequest{
		Amount: 12000,
		Method: "sbp",
		Wallet: "bc1qclientwallet",
	})
	require.NoError(t, err)

	require.Equal(t, "secret-1", gotSecret)
	// сумма уходит строкой
	require.Equal(t, "12000", gotBody["from_amount"])
	require.Equal(t, "bc1qclientwallet", gotBody["wallet"])

	require.Equal(t, Name, po.Provider)
	require.Equal(t, "gg-3", po.ProviderID)
	require.Equal(t, "2200 5555", po.Requisite)
	require.Equal(t, "Greengo Payment", po.Owner)
	require.Equal(t, "Greengo Exchange", po.Bank)
}

func TestCreateOrderEmptyItems(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"response": "success",
			"items":    []map[string]any{},
		})
	})

	_, err := adapter.CreateOrder(context.Background(), provider.CreateRequest{Amount: 12000, Method: "sbp"})
	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)
	require.True(t, perr.Retryable)
}

func TestGetStatus(t *testing.T) {
	cases := []struct {
		wire string
		want string
	}{
		{"completed", model.ProviderStatusFinished},
		{"canceled", model.ProviderStatusCancelled},
		{"new", model.ProviderStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.wire, func(t *testing.T) {
			adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/order/check", r.URL.Path)
				json.NewEncoder(w).Encode(map[string]any{
					"result": "true",
					"data": map[string]any{
						"orders": []map[string]any{
							{"order_id": "gg-3", "order_status": tc.wire, "amount_payable": "0.0035"},
						},
					},
				})
			})

			status, err := adapter.GetStatus(context.Background(), "gg-3")
			require.NoError(t, err)
			require.Equal(t, tc.want, status.Status)
			require.Equal(t, "0.0035", status.ReceivedSum.String())
		})
	}
}

func TestGetStatusNotFound(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": "false",
			"error":  "order not found",
		})
	})

	_, err := adapter.GetStatus(context.Background(), "gg-404")
	var perr *provider.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "order not found", perr.Message)
}

func TestCancel(t *testing.T) {
	var gotBody map[string]any
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order/cancel", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"result": "true",
			"data":   map[string]any{"cancel": []string{"gg-3"}},
		})
	})

	require.NoError(t, adapter.Cancel(context.Background(), "gg-3"))
	require.Equal(t, []any{"gg-3"}, gotBody["order_id"])
}

func TestHealthCheck(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/directions", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	require.NoError(t, adapter.HealthCheck(context.Background()))

	down := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	require.Error(t, down.HealthCheck(context.Background()))
}
