package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ScreeningMatch is the screening vendor's verdict for one counterparty.
// Jurisdiction carries the vendor's risk classification of the entity's
// home jurisdiction (LOW, MEDIUM, HIGH_RISK), not a country name.
type ScreeningMatch struct {
	EntityID     string  `json:"entity_id"`
	EntityName   string  `json:"entity_name"`
	MatchScore   float64 `json:"match_score"`
	Jurisdiction string  `json:"jurisdiction"`
	RiskLevel    string  `json:"risk_level"`
}

// Screening resolves a counterparty name against the sanctions list.
type Screening interface {
	Screen(ctx context.Context, counterparty string) (*ScreeningMatch, error)
}

// ScreeningClient queries the sanctions screening service over HTTP.
type ScreeningClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewScreeningClient builds a client for the screening service at endpoint.
func NewScreeningClient(endpoint string) *ScreeningClient {
	return &ScreeningClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Screen looks up the counterparty. A name with no list entry returns a
// zero-score match, not an error.
func (c *ScreeningClient) Screen(ctx context.Context, counterparty string) (*ScreeningMatch, error) {
	if counterparty == "" {
		return nil, fmt.Errorf("counterparty is required")
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	u.Path = "/api/v1/screen"

	q := u.Query()
	q.Set("name", counterparty)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("screening query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return &ScreeningMatch{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("screening returned %d: %s", resp.StatusCode, string(body))
	}

	var match ScreeningMatch
	if err := json.Unmarshal(body, &match); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &match, nil
}
