package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Catrya/mostro/logger"
)

var ErrNoRate = errors.New("no exchange rate available for fiat code")

// Service keeps a cached snapshot of BTC prices per fiat code. The scheduler
// refreshes it; order handlers only ever read the snapshot so a provider
// outage cannot block a transition.
type Service struct {
	providerURL string
	httpClient  *http.Client

	mtx       sync.RWMutex
	prices    map[string]float64
	fetchedAt time.Time
}

type yadioResponse struct {
	BTC map[string]float64 `json:"BTC"`
}

func NewService(providerURL string) *Service {
	return &Service{
		providerURL: providerURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		prices:      map[string]float64{},
	}
}

func (svc *Service) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.providerURL, nil)
	if err != nil {
		return err
	}

	resp, err := svc.httpClient.Do(req)
	if err != nil {
		logger.Logger.Error().Err(err).Str("provider", svc.providerURL).Msg("Failed to fetch exchange rates")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rate provider returned status %d", resp.StatusCode)
	}

	var payload yadioResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	if len(payload.BTC) == 0 {
		return errors.New("rate provider returned no prices")
	}

	svc.mtx.Lock()
	svc.prices = payload.BTC
	svc.fetchedAt = time.Now()
	svc.mtx.Unlock()

	logger.Logger.Debug().Int("fiat_codes", len(payload.BTC)).Msg("Refreshed exchange rates")
	return nil
}

// SatsFromFiat converts a fiat amount to sats using the cached snapshot,
// applying the signed premium percentage.
func (svc *Service) SatsFromFiat(fiatCode string, fiatAmount int64, premium int64) (int64, error) {
	svc.mtx.RLock()
	price, ok := svc.prices[fiatCode]
	svc.mtx.RUnlock()
	if !ok || price <= 0 {
		return 0, ErrNoRate
	}

	btc := float64(fiatAmount) / price
	btc = btc * (1 + float64(premium)/100)
	return int64(btc * 1e8), nil
}

func (svc *Service) LastFetched() time.Time {
	svc.mtx.RLock()
	defer svc.mtx.RUnlock()
	return svc.fetchedAt
}
