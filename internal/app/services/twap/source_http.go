package twap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/holiman/uint256"

	domain "github.com/R3E-Network/twap_oracle/internal/app/domain/twap"
	"github.com/R3E-Network/twap_oracle/pkg/logger"
)

// HTTPSource reads cumulative prices from an HTTP endpoint. The endpoint
// receives the pair identity as query parameters and responds with
// decimal-string counters.
type HTTPSource struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

var _ CumulativeSource = (*HTTPSource)(nil)

// NewHTTPSource constructs a source using the provided endpoint.
func NewHTTPSource(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("source endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse source endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("twap-http-source")
	}
	return &HTTPSource{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (h *HTTPSource) CurrentCumulativePrices(ctx context.Context, pair domain.Pair) (*uint256.Int, *uint256.Int, uint64, error) {
	requestURL := *h.endpoint
	q := requestURL.Query()
	q.Set("pair_id", pair.ID)
	q.Set("token0", pair.Token0)
	q.Set("token1", pair.Token1)
	requestURL.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("build source request: %w", err)
	}
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("source request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, 0, fmt.Errorf("source status %d", resp.StatusCode)
	}

	var payload struct {
		Price0Cumulative string `json:"price0_cumulative"`
		Price1Cumulative string `json:"price1_cumulative"`
		Timestamp        uint64 `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, nil, 0, fmt.Errorf("decode source response: %w", err)
	}

	cum0, err := uint256.FromDecimal(payload.Price0Cumulative)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("parse price0 cumulative: %w", err)
	}
	cum1, err := uint256.FromDecimal(payload.Price1Cumulative)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("parse price1 cumulative: %w", err)
	}

	return cum0, cum1, payload.Timestamp, nil
}
