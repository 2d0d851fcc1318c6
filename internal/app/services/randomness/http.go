package randomness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/prizepool/pkg/logger"
)

// HTTPSource polls a remote beacon. GET {endpoint}/seed answers
// {"ready": bool, "seed": "0x..", "interval": N}.
type HTTPSource struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	interval atomic.Uint64
	log      *logger.Logger
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource constructs a source for endpoint. interval is reported until the beacon
// announces its own.
func NewHTTPSource(client *http.Client, endpoint, apiKey string, interval uint64, log *logger.Logger) (*HTTPSource, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("beacon endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse beacon endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("randomness-http")
	}
	s := &HTTPSource{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}
	s.interval.Store(interval)
	return s, nil
}

func (s *HTTPSource) IsSeedReady(ctx context.Context) (bool, error) {
	body, err := s.fetch(ctx)
	if err != nil {
		return false, err
	}
	return gjson.GetBytes(body, "ready").Bool(), nil
}

func (s *HTTPSource) CurrentSeed(ctx context.Context) (*uint256.Int, error) {
	body, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(body, "ready").Bool() {
		return nil, ErrSeedNotReady
	}
	raw := gjson.GetBytes(body, "seed")
	if !raw.Exists() || raw.Type != gjson.String {
		return nil, fmt.Errorf("%w: seed missing from beacon response", ErrSource)
	}
	if !strings.HasPrefix(raw.Str, "0x") {
		return nil, fmt.Errorf("%w: seed %q is not 0x-prefixed hex", ErrSource, raw.Str)
	}
	b := common.FromHex(raw.Str)
	if len(b) == 0 || len(b) > 32 {
		return nil, fmt.Errorf("%w: seed %q is not a 256-bit value", ErrSource, raw.Str)
	}
	return new(uint256.Int).SetBytes(b), nil
}

func (s *HTTPSource) SeedUpdateInterval() uint64 {
	return s.interval.Load()
}

func (s *HTTPSource) fetch(ctx context.Context) ([]byte, error) {
	requestURL := s.endpoint.JoinPath("seed")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build beacon request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: beacon status %d", ErrSource, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("%w: read beacon response: %v", ErrSource, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: beacon response is not json", ErrSource)
	}

	if n := gjson.GetBytes(body, "interval").Uint(); n > 0 && n != s.interval.Load() {
		s.log.WithField("interval", n).Debug("beacon announced seed interval")
		s.interval.Store(n)
	}
	return body, nil
}
