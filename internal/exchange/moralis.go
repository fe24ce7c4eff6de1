package exchange

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/config"
	errs "github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/errors"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/logger"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/metrics"
	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/models"
)

const (
	moralisBaseURL = "https://solana-gateway.moralis.io"
	ohlcvEndpoint  = "/token/%s/pairs/%s/ohlcv"

	defaultChain    = "mainnet"
	defaultCurrency = "usd"
	requestTimeout  = 30 * time.Second

	// toDate is pushed one day past the gap end; the upstream treats it
	// inconsistently as inclusive or exclusive.
	toDatePadding = 24 * time.Hour

	maxResponseBytes = 16 << 20
	userAgent        = "pricecache/1.0"
	component        = "moralis"
)

// MoralisOptions configures a MoralisAdapter
type MoralisOptions struct {
	BaseURL           string
	APIKey            string
	Chain             string
	Currency          string
	Timeout           time.Duration
	RequestPause      time.Duration // fixed sleep after every call; 0 disables
	RequestsPerMinute int           // optional quota on top of the pause; 0 disables
	Retry             errs.RetryPolicy
	HTTPClient        *http.Client
	Logger            *slog.Logger
	Metrics           *metrics.CacheMetrics
}

// OptionsFromConfig maps the api config section onto adapter options
func OptionsFromConfig(cfg config.APIConfig) MoralisOptions {
	return MoralisOptions{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Chain:             cfg.Chain,
		Currency:          cfg.Currency,
		Timeout:           cfg.TimeoutDuration(),
		RequestPause:      cfg.PauseDuration(),
		RequestsPerMinute: cfg.RequestsPerMinute,
		Retry:             errs.PolicyFromConfig(cfg.RetryPolicy),
	}
}

// MoralisAdapter calls the Moralis Solana gateway OHLCV endpoint, one request per gap.
type MoralisAdapter struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	apiKey      string
	chain       string
	currency    string
	pause       time.Duration
	retry       errs.RetryPolicy
	logger      *slog.Logger
	metrics     *metrics.CacheMetrics

	sleep func(ctx context.Context, d time.Duration)
}

// NewMoralisAdapter creates an adapter, filling unset options with defaults
func NewMoralisAdapter(opts MoralisOptions) *MoralisAdapter {
	if opts.BaseURL == "" {
		opts.BaseURL = moralisBaseURL
	}
	if opts.Chain == "" {
		opts.Chain = defaultChain
	}
	if opts.Currency == "" {
		opts.Currency = defaultCurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = requestTimeout
	}
	if opts.RequestPause < 0 {
		opts.RequestPause = 0
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &MoralisAdapter{
		httpClient:  opts.HTTPClient,
		rateLimiter: limiter,
		baseURL:     opts.BaseURL,
		apiKey:      opts.APIKey,
		chain:       opts.Chain,
		currency:    opts.Currency,
		pause:       opts.RequestPause,
		retry:       opts.Retry,
		logger:      opts.Logger.With("component", component),
		metrics:     opts.Metrics,
		sleep:       sleepContext,
	}
}

// FetchRange implements OHLCVFetcher
func (m *MoralisAdapter) FetchRange(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	if err := req.Validate(); err != nil {
		return &FetchResponse{Outcome: models.FetchFailed},
			errs.New(errs.ErrorTypeBadRequest, component, "fetch_range", err)
	}

	log := logger.FromContext(ctx, m.logger).With("pool", req.Pool, "timeframe", req.Timeframe)
	endpoint := m.buildURL(req)

	log.Debug("fetching candles",
		"from", time.Unix(req.Start, 0).UTC(),
		"to", time.Unix(req.End, 0).UTC())

	var body []byte
	err := errs.Retry(ctx, m.retry, log, component, "fetch_range", func() error {
		var err error
		body, err = m.doRequest(ctx, endpoint)
		return err
	})
	m.sleep(ctx, m.pause)

	if err != nil {
		m.metrics.RecordFailedFetch()
		return &FetchResponse{Outcome: models.FetchFailed}, err
	}

	points, dropped, problems, err := normalizeResponse(body, req.Timeframe, req.Start, req.End)
	if err != nil {
		m.metrics.RecordFailedFetch()
		return &FetchResponse{Outcome: models.FetchFailed},
			errs.New(errs.ErrorTypeMalformedBody, component, "fetch_range", err)
	}
	for _, problem := range problems {
		log.Warn("failed to convert candle, skipping", "error", problem)
	}

	if len(points) == 0 {
		m.metrics.RecordEmptyConfirmed()
		log.Debug("upstream confirmed no candles", "dropped", dropped)
		return &FetchResponse{Outcome: models.FetchEmptyConfirmed, Dropped: dropped}, nil
	}

	m.metrics.RecordFetched(len(points))
	log.Debug("successfully fetched candles", "count", len(points), "dropped", dropped)
	return &FetchResponse{Points: points, Outcome: models.FetchOK, Dropped: dropped}, nil
}

func (m *MoralisAdapter) buildURL(req FetchRequest) string {
	q := url.Values{}
	q.Set("timeframe", string(req.Timeframe))
	q.Set("currency", m.currency)
	q.Set("fromDate", time.Unix(req.Start, 0).UTC().Format(time.RFC3339))
	q.Set("toDate", time.Unix(req.End, 0).UTC().Add(toDatePadding).Format(time.RFC3339))

	path := fmt.Sprintf(ohlcvEndpoint, url.PathEscape(m.chain), url.PathEscape(req.Pool))
	return m.baseURL + path + "?" + q.Encode()
}

// doRequest performs one GET, waiting on the quota limiter first
func (m *MoralisAdapter) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	if err := m.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeBadRequest, component, "fetch_range",
			fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-API-Key", m.apiKey)

	m.metrics.RecordAPICall()
	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &errs.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
