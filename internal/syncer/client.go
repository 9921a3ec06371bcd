package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/httpretry"
)

// Remote is the aggregator side of a sync round trip.
type Remote interface {
	Sync(ctx context.Context, req domain.SyncRequest) (*domain.SyncResponse, error)
}

// HTTPClient posts sync requests to {baseURL}/sync. It performs a single
// attempt: a failed round trip waits for the next scheduled sync.
type HTTPClient struct {
	baseURL string
	client  httpretry.HTTPDoer
}

// NewHTTPClient creates a client for the aggregator at baseURL.
func NewHTTPClient(baseURL string, client httpretry.HTTPDoer) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), client: client}
}

func (c *HTTPClient) Sync(ctx context.Context, syncReq domain.SyncRequest) (*domain.SyncResponse, error) {
	body, err := json.Marshal(syncReq)
	if err != nil {
		return nil, fmt.Errorf("encode sync request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post sync: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read sync reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		var env domain.SyncResponse
		if json.Unmarshal(data, &env) == nil && env.Error != "" {
			msg = env.Error
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out domain.SyncResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode sync reply: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("aggregator reported failure: %s", out.Error)
	}
	return &out, nil
}
