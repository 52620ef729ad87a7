package rates

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRates(t *testing.T, handler http.HandlerFunc) (Rates, *int) {
	t.Helper()
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	return NewRates(server.URL, time.Second), &hits
}

func TestGetBTCRate(t *testing.T) {
	rates, _ := newTestRates(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/simple/price", r.URL.Path)
		require.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		require.Equal(t, "rub", r.URL.Query().Get("vs_currencies"))
		json.NewEncoder(w).Encode(map[string]any{
			"bitcoin": map[string]any{"rub": 9100000},
		})
	})

	rate, err := rates.GetBTCRate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "9100000", rate.String())
}

// повторный запрос в пределах TTL идет из кеша
func TestGetBTCRateCached(t *testing.T) {
	rates, hits := newTestRates(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"bitcoin": map[string]any{"rub": 9100000},
		})
	})

	_, err := rates.GetBTCRate(context.Background())
	require.NoError(t, err)
	_, err = rates.GetBTCRate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, *hits)
}

// источник недоступен при холодном старте: запасной курс и ошибка
func TestGetBTCRateFallback(t *testing.T) {
	rates, _ := newTestRates(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	rate, err := rates.GetBTCRate(context.Background())
	require.Error(t, err)
	require.Equal(t, fallbackRate.String(), rate.String())
}

// после удачного запроса ошибки отдают последний известный курс
func TestGetBTCRateLastKnown(t *testing.T) {
	fail := false
	source, _ := newTestRates(t, func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"bitcoin": map[string]any{"rub": 9100000},
		})
	})

	rate, err := source.GetBTCRate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "9100000", rate.String())

	// кеш просрочен, источник упал: последний известный курс и ошибка
	fail = true
	source.(*rates).cachedAt = time.Now().Add(-2 * cacheTTL)

	rate, err = source.GetBTCRate(context.Background())
	require.Error(t, err)
	require.Equal(t, "9100000", rate.String())
}
