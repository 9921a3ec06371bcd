package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/httpretry"
)

// Locator resolves an IP address to a location. A nil result with a nil
// error means the address is not locatable.
type Locator interface {
	Locate(ctx context.Context, ip string) (*domain.Geolocation, error)
}

// HTTPLocator queries an ip-api style JSON endpoint. The URL template
// carries "{ip}" where the address goes.
type HTTPLocator struct {
	client   httpretry.HTTPDoer
	template string
}

// NewHTTPLocator creates a locator for urlTemplate, e.g.
// "http://ip-api.com/json/{ip}". A nil client gets a short-timeout client
// that retries once; Service bounds the whole lookup regardless.
func NewHTTPLocator(client httpretry.HTTPDoer, urlTemplate string) *HTTPLocator {
	if client == nil {
		client = httpretry.New(&http.Client{Timeout: time.Second}, httpretry.Options{
			MaxRetries: 1,
			BaseDelay:  200 * time.Millisecond,
			MaxDelay:   500 * time.Millisecond,
		})
	}
	return &HTTPLocator{client: client, template: urlTemplate}
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

func (l *HTTPLocator) Locate(ctx context.Context, ip string) (*domain.Geolocation, error) {
	endpoint := strings.ReplaceAll(l.template, "{ip}", url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("geo request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("geo lookup %s: status %d", ip, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geo decode: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, nil
	}
	if body.Country == "" {
		return nil, nil
	}
	return &domain.Geolocation{
		Country: body.Country,
		Region:  body.RegionName,
		City:    body.City,
		Lat:     body.Lat,
		Lon:     body.Lon,
	}, nil
}

// Locatable reports whether ip is a public address worth looking up.
func Locatable(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	return !(parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() || parsed.IsMulticast())
}
