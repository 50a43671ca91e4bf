package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"trip-monitor/internal/trip"
)

var ErrStatus = errors.New("unexpected roster status")

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPSource reads ongoing trips from the dashboard's REST API.
type HTTPSource struct {
	url    string
	tokens TokenSource
	client *http.Client
}

func NewHTTPSource(url string, tokens TokenSource, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{url: url, tokens: tokens, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) FetchOngoing(ctx context.Context) ([]trip.OngoingTrip, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.tokens != nil {
		tok, err := s.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("roster token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get ongoing trips: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return decodeRoster(body)
}

// decodeRoster accepts either a bare JSON array or {"data": [...]}.
func decodeRoster(body []byte) ([]trip.OngoingTrip, error) {
	body = bytes.TrimSpace(body)
	var trips []trip.OngoingTrip
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &trips); err != nil {
			return nil, fmt.Errorf("failed to decode trips: %w", err)
		}
		return trips, nil
	}
	var wrapped struct {
		Data []trip.OngoingTrip `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode trips: %w", err)
	}
	return wrapped.Data, nil
}
