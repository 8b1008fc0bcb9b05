// Package marketdata fetches current price data over HTTP with
// per-endpoint circuit breaking and request rate limiting.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// Client fetches quotes from an ordered list of endpoints. The first
// endpoint is the primary; the rest are fallback tiers tried in order
// when the primary fails or its breaker is open.
type Client struct {
	endpoints []string
	breakers  map[string]*gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	client    *http.Client
	log       zerolog.Logger
}

// quote is the wire format of one symbol quote.
type quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// NewClient creates a client over the given endpoint tiers. At least
// one endpoint is required.
func NewClient(endpoints []string, log zerolog.Logger) *Client {
	c := &Client{
		endpoints: endpoints,
		breakers:  make(map[string]*gobreaker.CircuitBreaker, len(endpoints)),
		// Generous steady rate with burst headroom for multi-symbol
		// cycles; protects upstream quotas, not our own latency.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "marketdata").Logger(),
	}

	for _, endpoint := range endpoints {
		c.breakers[endpoint] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     endpoint,
			Interval: 60 * time.Second,
			Timeout:  60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return c
}

// Fetch returns one price point per symbol. Endpoints are tried in tier
// order; an error is returned only when every tier is exhausted.
func (c *Client) Fetch(ctx context.Context, symbols []string, market domain.MarketClass) ([]domain.PricePoint, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols to fetch")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for i, endpoint := range c.endpoints {
		points, err := c.fetchFrom(ctx, endpoint, symbols, market)
		if err == nil {
			if i > 0 {
				c.log.Warn().Str("endpoint", endpoint).Int("tier", i).Msg("Served from fallback tier")
			}
			return points, nil
		}
		lastErr = err
		c.log.Warn().Err(err).Str("endpoint", endpoint).Msg("Market data endpoint failed")
	}
	return nil, fmt.Errorf("all %d market data tiers exhausted: %w", len(c.endpoints), lastErr)
}

func (c *Client) fetchFrom(ctx context.Context, endpoint string, symbols []string, market domain.MarketClass) ([]domain.PricePoint, error) {
	result, err := c.breakers[endpoint].Execute(func() (interface{}, error) {
		reqURL := fmt.Sprintf("%s/quotes?symbols=%s&market=%s",
			endpoint, url.QueryEscape(strings.Join(symbols, ",")), market)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var quotes []quote
		if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
			return nil, fmt.Errorf("decode quotes: %w", err)
		}
		return quotes, nil
	})
	if err != nil {
		return nil, err
	}

	quotes := result.([]quote)
	if len(quotes) == 0 {
		return nil, fmt.Errorf("endpoint returned no quotes")
	}

	points := make([]domain.PricePoint, 0, len(quotes))
	for _, q := range quotes {
		points = append(points, domain.PricePoint{
			Symbol:    q.Symbol,
			Price:     q.Price,
			Volume:    q.Volume,
			Timestamp: time.UnixMilli(q.Timestamp).UTC(),
		})
	}
	return points, nil
}

// Name identifies the client in dependency diagnostics.
func (c *Client) Name() string { return "market_data" }

// HealthCheck probes the primary endpoint's health route.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints[0]+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("market data unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market data unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
