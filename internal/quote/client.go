package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aegis-trader/paper-engine/internal/ledger"
	"github.com/aegis-trader/paper-engine/internal/metrics"
	"github.com/aegis-trader/paper-engine/internal/model"
)

// Client proxies a Finnhub-style market data API:
//
//	GET {base}/quote?symbol=X            -> {c, d, dp, h, l, o, pc}
//	GET {base}/stock/candle?symbol=X&... -> {c: [], h: [], l: [], o: [], t: [], v: [], s}
//
// The upstream returns zeroed fields for unknown symbols, which is passed
// through unchanged per the gateway contract.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a gateway client for the given API base URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type quotePayload struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PrevClose     float64 `json:"pc"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (*model.Quote, error) {
	symbol = ledger.Normalize(symbol)
	metrics.QuoteRequests.WithLabelValues("api").Inc()

	endpoint := fmt.Sprintf("%s/quote?symbol=%s&token=%s",
		c.baseURL, url.QueryEscape(symbol), url.QueryEscape(c.token))

	var payload quotePayload
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}

	return &model.Quote{
		Symbol:        symbol,
		Current:       decimal.NewFromFloat(payload.Current),
		Change:        decimal.NewFromFloat(payload.Change),
		ChangePercent: decimal.NewFromFloat(payload.ChangePercent),
		High:          decimal.NewFromFloat(payload.High),
		Low:           decimal.NewFromFloat(payload.Low),
		Open:          decimal.NewFromFloat(payload.Open),
		PrevClose:     decimal.NewFromFloat(payload.PrevClose),
	}, nil
}

type candlePayload struct {
	Close  []float64 `json:"c"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Open   []float64 `json:"o"`
	Times  []int64   `json:"t"`
	Volume []int64   `json:"v"`
	Status string    `json:"s"`
}

func (c *Client) Candles(ctx context.Context, symbol string, period string) ([]model.Candle, error) {
	symbol = ledger.Normalize(symbol)
	metrics.QuoteRequests.WithLabelValues("api").Inc()

	days := PeriodDays(period)
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	endpoint := fmt.Sprintf("%s/stock/candle?symbol=%s&resolution=D&from=%d&to=%d&token=%s",
		c.baseURL, url.QueryEscape(symbol), from.Unix(), to.Unix(), url.QueryEscape(c.token))

	var payload candlePayload
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("candles %s: %w", symbol, err)
	}
	if payload.Status != "ok" {
		// "no_data" for unknown symbols; an empty series mirrors the
		// zeroed-quote contract.
		return []model.Candle{}, nil
	}

	candles := make([]model.Candle, 0, len(payload.Times))
	for i, ts := range payload.Times {
		if i >= len(payload.Close) || i >= len(payload.Open) ||
			i >= len(payload.High) || i >= len(payload.Low) {
			break
		}
		candle := model.Candle{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      decimal.NewFromFloat(payload.Open[i]),
			High:      decimal.NewFromFloat(payload.High[i]),
			Low:       decimal.NewFromFloat(payload.Low[i]),
			Close:     decimal.NewFromFloat(payload.Close[i]),
		}
		if i < len(payload.Volume) {
			candle.Volume = payload.Volume[i]
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch data: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
