package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bardlex/gosolo/pkg/circuit"
	"github.com/bardlex/gosolo/pkg/errors"
)

// DefaultHeightAPIURL is the public endpoint polled when no node is configured.
const DefaultHeightAPIURL = "https://blockchain.info/latestblock"

// HTTPHeightSource reads the chain height from a JSON API returning
// {"height": N}.
type HTTPHeightSource struct {
	url            string
	client         *http.Client
	circuitBreaker *circuit.Breaker
}

// NewHTTPHeightSource creates a height source for url. A nil client gets a
// 10 second timeout.
func NewHTTPHeightSource(url string, client *http.Client) *HTTPHeightSource {
	if url == "" {
		url = DefaultHeightAPIURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPHeightSource{
		url:    url,
		client: client,
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "height_api",
			MaxFailures:     5,
			SuccessRequired: 1,
			Timeout:         2 * time.Minute,
			ResetTimeout:    10 * time.Minute,
		}),
	}
}

type latestBlock struct {
	Height *int64 `json:"height"`
}

// Height fetches the latest block height. The watcher already retries on its
// next tick, so a single attempt is made here.
func (s *HTTPHeightSource) Height(ctx context.Context) (int64, error) {
	return circuit.ExecuteWithResult(ctx, s.circuitBreaker, func() (int64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeHeightSource, "height_request",
				"failed to build height request").
				WithContext("url", s.url)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeHeightSource, "height_request",
				"height API request failed").
				WithContext("url", s.url)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return 0, errors.New(errors.ErrorTypeHeightSource, "height_request",
				fmt.Sprintf("unexpected status %d", resp.StatusCode)).
				WithContext("url", s.url)
		}

		var body latestBlock
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeHeightSource, "height_decode",
				"height API returned invalid JSON").
				WithContext("url", s.url)
		}
		if body.Height == nil {
			return 0, errors.New(errors.ErrorTypeHeightSource, "height_decode",
				"height field missing from response").
				WithContext("url", s.url)
		}

		return *body.Height, nil
	})
}
