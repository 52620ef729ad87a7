package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Курс BTC/RUB с coingecko. Используется только текущая котировка,
// история не хранится

const cacheTTL = time.Minute

// Запасной курс на случай недоступности источника при холодном старте
var fallbackRate = decimal.NewFromInt(2800000)

type Rates interface {
	GetBTCRate(ctx context.Context) (decimal.Decimal, error)
}

type rates struct {
	client *resty.Client

	mutex     sync.Mutex
	cached    decimal.Decimal
	cachedAt  time.Time
	haveCache bool
}

func NewRates(baseURL string, timeout time.Duration) Rates {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	return &rates{client: client}
}

func (r *rates) GetBTCRate(ctx context.Context) (decimal.Decimal, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.haveCache && time.Since(r.cachedAt) < cacheTTL {
		return r.cached, nil
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":           "bitcoin",
			"vs_currencies": "rub",
		}).
		Get("/simple/price")
	if err != nil {
		return r.lastKnown(), err
	}
	if resp.StatusCode() != http.StatusOK {
		return r.lastKnown(), fmt.Errorf("rates request status: %d", resp.StatusCode())
	}

	var answer struct {
		Bitcoin struct {
			Rub decimal.Decimal `json:"rub"`
		} `json:"bitcoin"`
	}
	if err := json.Unmarshal(resp.Body(), &answer); err != nil {
		return r.lastKnown(), err
	}
	if answer.Bitcoin.Rub.IsZero() {
		return r.lastKnown(), fmt.Errorf("rates: empty answer")
	}

	r.cached = answer.Bitcoin.Rub
	r.cachedAt = time.Now()
	r.haveCache = true
	return r.cached, nil
}

// lastKnown: при ошибке отдаем последний известный курс,
// совсем без курса - запасной
func (r *rates) lastKnown() decimal.Decimal {
	if r.haveCache {
		return r.cached
	}
	return fallbackRate
}
