// Package cryptocompare polls the CryptoCompare REST API for price snapshots
// and hourly volume history.
package cryptocompare

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rewired-gh/pulsewatch/internal/logger"
	"github.com/rewired-gh/pulsewatch/internal/models"
	"github.com/rewired-gh/pulsewatch/internal/retry"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://min-api.cryptocompare.com"

// Config configures a Client.
type Config struct {
	BaseURL           string
	APIKey            string
	Quote             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             retry.Policy
}

// Client provides access to the CryptoCompare data API.
type Client struct {
	http    *resty.Client
	quote   string
	limiter *rate.Limiter
	retry   retry.Policy

	mu      sync.Mutex
	missing map[string]bool
}

type rawQuote struct {
	Price        float64 `json:"PRICE"`
	Volume24h    float64 `json:"VOLUME24HOUR"`
	MarketCap    float64 `json:"MKTCAP"`
	High24h      float64 `json:"HIGH24HOUR"`
	ChangePct24h float64 `json:"CHANGEPCT24HOUR"`
	LastUpdate   int64   `json:"LASTUPDATE"`
}

type priceMultiFullResponse struct {
	Response string                         `json:"Response"`
	Message  string                         `json:"Message"`
	Raw      map[string]map[string]rawQuote `json:"RAW"`
}

type histoPoint struct {
	Time     int64   `json:"time"`
	Close    float64 `json:"close"`
	VolumeTo float64 `json:"volumeto"`
}

type histoHourResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []histoPoint `json:"Data"`
	} `json:"Data"`
}

// NewClient creates a CryptoCompare client. A non-positive RequestsPerSecond
// disables pacing.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	quote := strings.ToUpper(cfg.Quote)
	if quote == "" {
		quote = "USD"
	}

	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		h.SetHeader("Authorization", "Apikey "+cfg.APIKey)
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		http:    h,
		quote:   quote,
		limiter: rate.NewLimiter(limit, burst),
		retry:   cfg.Retry,
		missing: make(map[string]bool),
	}
}

// FetchSnapshots retrieves one snapshot per symbol. Symbols the API does not
// return are skipped.
func (c *Client) FetchSnapshots(ctx context.Context, symbols []string) ([]models.AssetSnapshot, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}

	var out priceMultiFullResponse
	err := c.get(ctx, "/data/pricemultifull", map[string]string{
		"fsyms": strings.Join(upper, ","),
		"tsyms": c.quote,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshots: %w", err)
	}
	if out.Response == "Error" {
		return nil, fmt.Errorf("cryptocompare error: %s", out.Message)
	}
	if out.Raw == nil {
		return nil, errors.New("invalid response: missing RAW data")
	}

	snapshots := make([]models.AssetSnapshot, 0, len(upper))
	for _, symbol := range upper {
		q, ok := out.Raw[symbol][c.quote]
		if !ok {
			c.warnMissing(symbol)
			continue
		}
		ts := time.Now().UTC()
		if q.LastUpdate > 0 {
			ts = time.Unix(q.LastUpdate, 0).UTC()
		}
		snapshots = append(snapshots, models.AssetSnapshot{
			Symbol:       symbol,
			Name:         symbol,
			Price:        q.Price,
			Volume:       q.Volume24h,
			MarketCap:    q.MarketCap,
			High24h:      q.High24h,
			ChangePct24h: q.ChangePct24h,
			Timestamp:    ts,
		})
	}
	return snapshots, nil
}

// FetchRecentVolumes returns hourly quote volumes for symbol, oldest first.
func (c *Client) FetchRecentVolumes(ctx context.Context, symbol string, periods int) ([]float64, error) {
	if periods < 1 {
		periods = 1
	}
	var out histoHourResponse
	err := c.get(ctx, "/data/v2/histohour", map[string]string{
		"fsym":  strings.ToUpper(symbol),
		"tsym":  c.quote,
		"limit": strconv.Itoa(periods),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch volume history for %s: %w", symbol, err)
	}
	if out.Response == "Error" {
		return nil, fmt.Errorf("cryptocompare error for %s: %s", symbol, out.Message)
	}
	if len(out.Data.Data) == 0 {
		return nil, fmt.Errorf("no volume history for %s", symbol)
	}

	volumes := make([]float64, len(out.Data.Data))
	for i, p := range out.Data.Data {
		volumes[i] = p.VolumeTo
	}
	return volumes, nil
}

// get performs a paced, retried GET and decodes a 2xx body into out.
// 4xx responses other than 429 are not retried.
func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	return c.retry.Do(ctx, "GET "+path, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(out).
			ForceContentType("application/json").
			Get(path)
		if err != nil {
			return err
		}
		code := resp.StatusCode()
		switch {
		case code == http.StatusTooManyRequests || code >= 500:
			return fmt.Errorf("server error: %d", code)
		case code >= 400:
			return retry.Permanent(fmt.Errorf("unexpected status %d: %s", code, truncate(resp.String(), 200)))
		}
		return nil
	})
}

func (c *Client) warnMissing(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.missing[symbol] {
		return
	}
	c.missing[symbol] = true
	logger.Warn("No %s quote for %s, skipping", c.quote, symbol)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
