// Package reasoning is the HTTP client for the external reasoning
// service that reviews trading signals before execution.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quantpulse/quantpulse/internal/domain"
)

// Client calls the reasoning service. The service is the least reliable
// dependency in the system; the breaker keeps a flapping service from
// adding latency to every cycle.
type Client struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

type analyzeRequest struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Price      float64 `json:"price"`
}

type analyzeResponse struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// NewClient creates a reasoning client for the given base URL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "reasoning",
			Interval: 60 * time.Second,
			Timeout:  60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		log: log.With().Str("client", "reasoning").Logger(),
	}
}

// Analyze submits one signal for review.
func (c *Client) Analyze(ctx context.Context, symbol string, sig domain.Signal) (domain.Analysis, error) {
	body, err := json.Marshal(analyzeRequest{
		Symbol:     symbol,
		Action:     string(sig.Action),
		Confidence: sig.Confidence,
		Price:      sig.Price,
	})
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("marshal analyze request: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var parsed analyzeResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		return parsed, nil
	})
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("analyze %s: %w", symbol, err)
	}

	parsed := result.(analyzeResponse)
	return domain.Analysis{
		Symbol:     symbol,
		Verdict:    parsed.Verdict,
		Confidence: parsed.Confidence,
		Rationale:  parsed.Rationale,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Name identifies the client in dependency diagnostics.
func (c *Client) Name() string { return "reasoning" }

// HealthCheck probes the service's health route.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("reasoning service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reasoning service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
