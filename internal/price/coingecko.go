package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/farmstream/bchwatch/internal/config"
)

// ErrPriceUnavailable is returned when CoinGecko cannot be reached or answers
// with something other than a usable quote.
var ErrPriceUnavailable = errors.New("price unavailable")

// Quote is one cached currency price and the instant it was last refreshed.
type Quote struct {
	Price       float64   `json:"price"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Snapshot is a point-in-time copy of the cached BCH prices. A nil currency
// means no successful fetch has produced that quote yet.
type Snapshot struct {
	EUR *Quote `json:"eur,omitempty"`
	USD *Quote `json:"usd,omitempty"`
}

// PriceService fetches and caches the BCH spot price from CoinGecko.
//
// A background refresher updates the cache on a fixed interval. Readers never
// block on the network: Eur and Usd return the last good value and report
// ok=false until the first successful fetch. A failed refresh keeps the
// previous quote. EUR and USD are tracked independently so a partial response
// never erases the currency it omitted.
type PriceService struct {
	client  *http.Client
	baseURL string

	mu  sync.RWMutex
	eur *Quote
	usd *Quote

	stop chan struct{}
	done chan struct{}
}

// NewPriceService creates a price service against the public CoinGecko API.
func NewPriceService() *PriceService {
	slog.Info("price service initialized",
		"baseURL", config.CoinGeckoBaseURL,
		"coin", config.CoinGeckoIDBCH,
		"refreshInterval", config.PriceRefreshInterval,
	)

	return NewPriceServiceWithURL(config.CoinGeckoBaseURL)
}

// NewPriceServiceWithURL creates a PriceService with a custom base URL (for testing).
func NewPriceServiceWithURL(baseURL string) *PriceService {
	return &PriceService{
		client: &http.Client{
			Timeout: config.PriceRequestTimeout,
		},
		baseURL: baseURL,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start performs one synchronous fetch so a quote is available before the
// first payment is processed, then launches the background refresher. A
// failed initial fetch is logged but not fatal: payments recorded without a
// quote simply carry no fiat amounts.
func (ps *PriceService) Start(ctx context.Context) {
	if err := ps.refresh(ctx); err != nil {
		slog.Warn("initial price fetch failed", "error", err)
	}
	go ps.run(ctx)
}

// Stop signals the refresher to exit and waits briefly for it.
func (ps *PriceService) Stop() {
	close(ps.stop)

	select {
	case <-ps.done:
	case <-time.After(2 * time.Second):
		slog.Warn("price refresher did not stop in time")
	}
}

func (ps *PriceService) run(ctx context.Context) {
	defer close(ps.done)

	ticker := time.NewTicker(config.PriceRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ps.refresh(ctx); err != nil {
				slog.Warn("price refresh failed, keeping previous quote", "error", err)
			}
		case <-ps.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Eur returns the cached BCH to EUR price. ok is false until a fetch succeeds.
func (ps *PriceService) Eur() (float64, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if ps.eur == nil {
		return 0, false
	}
	return ps.eur.Price, true
}

// Usd returns the cached BCH to USD price. ok is false until a fetch succeeds.
func (ps *PriceService) Usd() (float64, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	if ps.usd == nil {
		return 0, false
	}
	return ps.usd.Price, true
}

// Snapshot returns a copy of both cached quotes for status reporting.
func (ps *PriceService) Snapshot() Snapshot {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var snap Snapshot
	if ps.eur != nil {
		q := *ps.eur
		snap.EUR = &q
	}
	if ps.usd != nil {
		q := *ps.usd
		snap.USD = &q
	}
	return snap
}

// coinGeckoResponse represents the CoinGecko /simple/price response:
// coin id -> currency -> value.
type coinGeckoResponse map[string]map[string]float64

// refresh fetches both currencies in a single request and updates the cache.
// Each currency present in the response is updated; absent currencies keep
// their previous quote.
func (ps *PriceService) refresh(ctx context.Context) error {
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=eur,usd", ps.baseURL, config.CoinGeckoIDBCH)

	slog.Debug("fetching BCH price", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := ps.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var cgResp coinGeckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&cgResp); err != nil {
		return fmt.Errorf("%w: decode error: %v", ErrPriceUnavailable, err)
	}

	coin, ok := cgResp[config.CoinGeckoIDBCH]
	if !ok {
		return fmt.Errorf("%w: coin %q missing from response", ErrPriceUnavailable, config.CoinGeckoIDBCH)
	}

	eur, hasEur := coin["eur"]
	usd, hasUsd := coin["usd"]
	// A zero quote is as useless as a missing one.
	if hasEur && eur <= 0 {
		hasEur = false
	}
	if hasUsd && usd <= 0 {
		hasUsd = false
	}
	if !hasEur && !hasUsd {
		return fmt.Errorf("%w: no usable eur or usd quote in response", ErrPriceUnavailable)
	}

	now := time.Now().UTC()

	ps.mu.Lock()
	if hasEur {
		ps.eur = &Quote{Price: eur, RefreshedAt: now}
	}
	if hasUsd {
		ps.usd = &Quote{Price: usd, RefreshedAt: now}
	}
	ps.mu.Unlock()

	slog.Info("BCH price updated",
		"eur", eur,
		"usd", usd,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	return nil
}
