package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maestro-ai/maestro/pkg/schema"
)

const wellKnownCardPath = "/.well-known/agent.json"

// HTTPDiscovery resolves agent names against a set of known base URLs by
// fetching each agent's published card and matching on name.
type HTTPDiscovery struct {
	baseURLs []string
	client   *http.Client
}

// NewHTTPDiscovery creates a discovery client over the given agent base URLs.
func NewHTTPDiscovery(baseURLs []string) *HTTPDiscovery {
	return &HTTPDiscovery{
		baseURLs: baseURLs,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// FindAgent fetches cards from the configured base URLs and returns the first
// whose name matches. The match is case-insensitive.
func (d *HTTPDiscovery) FindAgent(ctx context.Context, name string) (*Card, error) {
	for _, base := range d.baseURLs {
		card, err := d.fetchCard(ctx, base)
		if err != nil {
			continue
		}
		if strings.EqualFold(card.Name, name) {
			return card, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no agent named %q among %d candidates", name, len(d.baseURLs))
}

func (d *HTTPDiscovery) fetchCard(ctx context.Context, baseURL string) (*Card, error) {
	url := strings.TrimRight(baseURL, "/") + wellKnownCardPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("card fetch: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var card Card
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, err
	}
	if card.URL == "" {
		card.URL = baseURL
	}
	return &card, nil
}
