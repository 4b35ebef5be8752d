package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ExchangeRate is one currency entry from the provider.
type ExchangeRate struct {
	Code string  `json:"code"`
	Rate float64 `json:"rate"`
}

// Client fetches exchange rates from an HTTP provider returning a JSON list
// of {code, rate} entries.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetExchangeRates fetches the current rate list. The call observes ctx for
// cancellation on top of the client's own timeout.
func (c *Client) GetExchangeRates(ctx context.Context) ([]ExchangeRate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange rates: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange rates: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange rates: provider returned %s", resp.Status)
	}

	var list []ExchangeRate
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("exchange rates: decode response: %w", err)
	}
	return list, nil
}
