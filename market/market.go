// Package market provides market-data provider clients: latest prices,
// daily history, balance sheets and news for a ticker symbol.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Client is a market-data provider. Implementations return *tool.Error
// values so failures keep their kind: NotFound for unknown symbols and
// UpstreamError for provider faults.
type Client interface {
	// Price returns the latest close for ticker.
	Price(ctx context.Context, ticker string) (float64, error)
	// History returns daily bars between start and end, both inclusive.
	History(ctx context.Context, ticker string, start, end time.Time) (Series, error)
	BalanceSheet(ctx context.Context, ticker string) (BalanceSheet, error)
	// News returns recent items, newest first. No news is an empty slice.
	News(ctx context.Context, ticker string) ([]NewsItem, error)
}

// Bar is one trading day.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Series is a daily history ordered ascending by date.
type Series []Bar

// ByDate indexes the series by trading date.
func (s Series) ByDate() map[string]Bar {
	out := make(map[string]Bar, len(s))
	for _, bar := range s {
		out[bar.Date] = bar
	}
	return out
}

type barValues struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// MarshalJSON renders the series as an object keyed by date. Keys keep the
// series order, which encoding/json maps would sort away.
func (s Series) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, bar := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(bar.Date)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(barValues{
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// BalanceSheet is a grid of line items by reporting period. Periods are
// ordered newest first.
type BalanceSheet struct {
	Ticker  string     `json:"ticker"`
	Periods []string   `json:"periods"`
	Items   []LineItem `json:"items"`
}

// LineItem holds one balance sheet row. Periods without a reported value
// are absent from Values.
type LineItem struct {
	Name   string             `json:"name"`
	Values map[string]float64 `json:"values"`
}

// NewsItem is one headline about a ticker.
type NewsItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Publisher   string    `json:"publisher,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}
