package worldbank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"econpanel/internal/model"
	"econpanel/internal/providers"
)

const (
	defaultBaseURL       = "https://api.worldbank.org/v2/"
	defaultPerPage       = 20000
	defaultCountryPage   = 400
	defaultBatchSize     = 50
	defaultRateBurst     = 5
	defaultTimeout       = 30 * time.Second
	defaultRetryBackoff  = time.Second
	defaultUserAgent     = "econpanel/0.1"
	aggregatesRegionName = "Aggregates"
)

var (
	ErrUnavailable = errors.New("worldbank: source unavailable")
	ErrAPIMessage  = errors.New("worldbank: api returned an error message")
)

type Config struct {
	BaseURL         string        `envconfig:"BASE_URL" default:"https://api.worldbank.org/v2/"`
	PerPage         int           `envconfig:"PER_PAGE" default:"20000"`
	BatchSize       int           `envconfig:"BATCH_SIZE" default:"50"`
	RateLimitPerSec float64       `envconfig:"RATE_LIMIT_PER_SEC" default:"5"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	Timeout         time.Duration `envconfig:"TIMEOUT" default:"30s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryBackoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"1s"`
	UserAgent       string        `envconfig:"USER_AGENT" default:"econpanel/0.1"`
}

type Option func(*Provider)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.client = client
		}
	}
}

type Provider struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

func New(opts ...Option) (*Provider, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, opts...)
}

func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("worldbank", &cfg); err != nil {
		return Config{}, fmt.Errorf("worldbank: config: %w", err)
	}
	return cfg, nil
}

func NewWithConfig(cfg Config, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("worldbank: base url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/"
	if cfg.PerPage <= 0 {
		cfg.PerPage = defaultPerPage
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateBurst
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	limit := rate.Inf
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}
	p := &Provider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.RateLimitBurst),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string {
	return "worldbank"
}

// FetchIndicator requests countries in batches and follows pagination. An
// empty country list asks for every economy. Null values come back as
// missing observations.
func (p *Provider) FetchIndicator(ctx context.Context, indicator model.Indicator, countries []string, start, end int) ([]model.Observation, error) {
	if strings.TrimSpace(indicator.Code) == "" {
		return nil, fmt.Errorf("worldbank: indicator %q has no code", indicator.Name)
	}
	if start > end {
		return nil, fmt.Errorf("worldbank: invalid year range %d-%d", start, end)
	}

	batches := batchCountries(countries, p.config.BatchSize)
	ingestedAt := p.now().UTC()
	observations := make([]model.Observation, 0)
	for _, batch := range batches {
		path := "country/" + strings.Join(batch, ";") + "/indicator/" + url.PathEscape(indicator.Code)
		params := url.Values{}
		params.Set("date", fmt.Sprintf("%d:%d", start, end))

		err := p.eachPage(ctx, path, params, p.config.PerPage, func(raw json.RawMessage) error {
			var rows []indicatorRow
			if err := json.Unmarshal(raw, &rows); err != nil {
				return fmt.Errorf("worldbank: decode rows: %w", err)
			}
			for _, row := range rows {
				observation, ok := row.observation(indicator)
				if !ok {
					continue
				}
				observation.Provider = p.Name()
				observation.IngestedAt = ingestedAt
				observations = append(observations, observation)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		p.logger.Debug("fetched indicator batch",
			zap.String("indicator", indicator.Name),
			zap.Int("countries", len(batch)),
			zap.Int("observations", len(observations)),
		)
	}
	return observations, nil
}

// ListCountries returns sovereign economies; regional and income aggregates
// are dropped.
func (p *Provider) ListCountries(ctx context.Context) ([]model.Country, error) {
	countries := make([]model.Country, 0)
	err := p.eachPage(ctx, "country", url.Values{}, defaultCountryPage, func(raw json.RawMessage) error {
		var rows []countryRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("worldbank: decode countries: %w", err)
		}
		for _, row := range rows {
			country := row.country()
			if country.ISO3 == "" || country.IsAggregate {
				continue
			}
			countries = append(countries, country)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(countries) == 0 {
		return nil, errors.New("worldbank: no countries parsed")
	}
	return countries, nil
}

func (p *Provider) eachPage(ctx context.Context, path string, params url.Values, perPage int, handle func(json.RawMessage) error) error {
	for page := 1; ; page++ {
		query := url.Values{}
		for key, values := range params {
			query[key] = append([]string(nil), values...)
		}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(perPage))

		body, err := p.doRequest(ctx, path, query)
		if err != nil {
			return err
		}
		meta, rows, err := splitEnvelope(body)
		if err != nil {
			return err
		}
		if len(rows) > 0 && !bytes.Equal(bytes.TrimSpace(rows), []byte("null")) {
			if err := handle(rows); err != nil {
				return err
			}
		}
		if int(meta.Pages) <= page {
			return nil
		}
	}
}

func (p *Provider) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := p.buildURL(path, params)

	attempts := p.config.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		body, status, retryAfter, err := p.doOnce(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !retryable(status) || attempt == attempts-1 {
			break
		}
		if retryAfter <= 0 {
			retryAfter = p.config.RetryBackoff << attempt
		}
		p.logger.Warn("retrying world bank request",
			zap.String("url", endpoint),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", retryAfter),
		)
		if err := sleepWithContext(ctx, retryAfter); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Provider) doOnce(ctx context.Context, endpoint string) ([]byte, int, time.Duration, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, 0, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.config.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, 0, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, resp.StatusCode, parseRetryAfter(resp), fmt.Errorf("%w: request failed (%s): %s", ErrUnavailable, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, resp.StatusCode, 0, nil
}

func (p *Provider) buildURL(path string, params url.Values) string {
	query := url.Values{}
	for key, values := range params {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	query.Set("format", "json")
	return p.config.BaseURL + strings.TrimLeft(path, "/") + "?" + query.Encode()
}

func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func parseRetryAfter(resp *http.Response) time.Duration {
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := time.Parse(http.TimeFormat, value); err == nil {
		if wait := time.Until(when); wait > 0 {
			return wait
		}
	}
	return 0
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func batchCountries(countries []string, size int) [][]string {
	codes := make([]string, 0, len(countries))
	for _, country := range countries {
		trimmed := strings.ToUpper(strings.TrimSpace(country))
		if trimmed == "" {
			continue
		}
		codes = append(codes, url.PathEscape(trimmed))
	}
	if len(codes) == 0 {
		return [][]string{{"all"}}
	}
	batches := make([][]string, 0, (len(codes)+size-1)/size)
	for len(codes) > size {
		batches = append(batches, codes[:size])
		codes = codes[size:]
	}
	return append(batches, codes)
}

var _ providers.Source = (*Provider)(nil)
var _ providers.CountryReference = (*Provider)(nil)
