package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NStream-Network/stream_layer/internal/app/domain/stream"
	"github.com/NStream-Network/stream_layer/pkg/logger"
)

// HTTPResolver polls an HTTP endpoint of the token transfer service for the
// status of a submitted transfer.
type HTTPResolver struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPResolver constructs a resolver using the provided endpoint.
func NewHTTPResolver(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPResolver, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("resolver endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse resolver endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("stream-http-resolver")
	}
	return &HTTPResolver{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (r *HTTPResolver) Resolve(ctx context.Context, t stream.Transfer) (bool, bool, string, time.Duration, error) {
	requestURL := *r.endpoint
	q := requestURL.Query()
	q.Set("transfer_id", t.ID)
	requestURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return false, false, "", 0, fmt.Errorf("build resolver request: %w", err)
	}
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return false, false, "", 0, fmt.Errorf("resolver request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, false, "", 0, fmt.Errorf("resolver status %d", resp.StatusCode)
	}

	var payload struct {
		Done       bool    `json:"done"`
		Success    bool    `json:"success"`
		Error      string  `json:"error"`
		RetryAfter float64 `json:"retry_after_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, false, "", 0, fmt.Errorf("decode resolver response: %w", err)
	}

	retry := time.Duration(payload.RetryAfter * float64(time.Second))
	if retry <= 0 {
		retry = 5 * time.Second
	}

	if !payload.Done {
		return false, false, "", retry, nil
	}
	return true, payload.Success, payload.Error, 0, nil
}
