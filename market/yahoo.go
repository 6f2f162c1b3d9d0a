package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/petal-labs/finagent/tool"
	"github.com/petal-labs/finagent/upstream"
)

// YahooBaseURL is the public Yahoo Finance query host.
const YahooBaseURL = "https://query2.finance.yahoo.com"

// YahooUserAgent is a browser-like agent; Yahoo rejects unidentified clients.
const YahooUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

const defaultNewsCount = 10

// balanceSheetTypes are the annual fundamentals requested for a balance
// sheet, in display order.
var balanceSheetTypes = []string{
	"TotalAssets",
	"CurrentAssets",
	"CashAndCashEquivalents",
	"CashCashEquivalentsAndShortTermInvestments",
	"AccountsReceivable",
	"Inventory",
	"TotalNonCurrentAssets",
	"NetPPE",
	"GoodwillAndOtherIntangibleAssets",
	"TotalLiabilitiesNetMinorityInterest",
	"CurrentLiabilities",
	"AccountsPayable",
	"CurrentDebt",
	"LongTermDebt",
	"TotalDebt",
	"TotalNonCurrentLiabilitiesNetMinorityInterest",
	"StockholdersEquity",
	"RetainedEarnings",
	"TotalEquityGrossMinorityInterest",
	"WorkingCapital",
	"NetDebt",
	"ShareIssued",
}

// Yahoo reads market data from the Yahoo Finance HTTP API.
type Yahoo struct {
	http      *upstream.Client
	newsCount int
	now       func() time.Time
}

// YahooOption configures a Yahoo client.
type YahooOption func(*Yahoo)

// WithNewsCount sets how many headlines News requests.
func WithNewsCount(n int) YahooOption {
	return func(y *Yahoo) {
		if n > 0 {
			y.newsCount = n
		}
	}
}

// WithClock overrides the clock used for open-ended queries.
func WithClock(now func() time.Time) YahooOption {
	return func(y *Yahoo) {
		if now != nil {
			y.now = now
		}
	}
}

// NewYahoo wraps an upstream client pointed at a Yahoo Finance host.
func NewYahoo(client *upstream.Client, opts ...YahooOption) *Yahoo {
	y := &Yahoo{http: client, newsCount: defaultNewsCount, now: time.Now}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

var _ Client = (*Yahoo)(nil)

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *yahooError   `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string   `json:"symbol"`
		RegularMarketPrice *float64 `json:"regularMarketPrice"`
		GMTOffset          int64    `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *yahooError) toolError(ticker string) *tool.Error {
	details := map[string]any{"upstream": "yahoo", "ticker": ticker, "code": e.Code}
	if strings.EqualFold(e.Code, "Not Found") {
		return tool.Errorf(tool.KindNotFound, "ticker %s not found: %s", ticker, e.Description).WithDetails(details)
	}
	return tool.Errorf(tool.KindUpstream, "yahoo: %s: %s", e.Code, e.Description).WithDetails(details)
}

func (y *Yahoo) chart(ctx context.Context, ticker string, query url.Values) (chartResult, error) {
	var resp chartResponse
	err := y.http.GetJSON(ctx, "/v8/finance/chart/"+url.PathEscape(ticker), query, &resp)
	if err != nil {
		return chartResult{}, notFoundFor(ticker, err)
	}
	if resp.Chart.Error != nil {
		return chartResult{}, resp.Chart.Error.toolError(ticker)
	}
	if len(resp.Chart.Result) == 0 {
		return chartResult{}, tool.Errorf(tool.KindNotFound, "ticker %s not found", ticker).
			WithDetails(map[string]any{"upstream": "yahoo", "ticker": ticker})
	}
	return resp.Chart.Result[0], nil
}

// Price returns the most recent daily close, falling back to the quoted
// market price when the chart carries no closes yet.
func (y *Yahoo) Price(ctx context.Context, ticker string) (float64, error) {
	result, err := y.chart(ctx, ticker, url.Values{
		"range":    {"1mo"},
		"interval": {"1d"},
	})
	if err != nil {
		return 0, err
	}
	if len(result.Indicators.Quote) > 0 {
		closes := result.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil {
				return *closes[i], nil
			}
		}
	}
	if result.Meta.RegularMarketPrice != nil {
		return *result.Meta.RegularMarketPrice, nil
	}
	return 0, tool.Errorf(tool.KindNotFound, "no price data for %s", ticker).
		WithDetails(map[string]any{"upstream": "yahoo", "ticker": ticker})
}

// History returns daily bars from start through end. Days without a full
// quote are skipped.
func (y *Yahoo) History(ctx context.Context, ticker string, start, end time.Time) (Series, error) {
	if start.After(end) {
		return nil, tool.Errorf(tool.KindInvalidRange, "start %s is after end %s",
			start.Format(tool.DateLayout), end.Format(tool.DateLayout))
	}
	result, err := y.chart(ctx, ticker, url.Values{
		"period1":  {strconv.FormatInt(start.Unix(), 10)},
		"period2":  {strconv.FormatInt(end.Add(24*time.Hour).Unix(), 10)},
		"interval": {"1d"},
		"events":   {"history"},
	})
	if err != nil {
		return nil, err
	}

	series := make(Series, 0, len(result.Timestamp))
	if len(result.Indicators.Quote) == 0 {
		return series, nil
	}
	quote := result.Indicators.Quote[0]
	first, last := start.Format(tool.DateLayout), end.Format(tool.DateLayout)
	for i, ts := range result.Timestamp {
		open, high, low, closePrice := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if open == nil || high == nil || low == nil || closePrice == nil {
			continue
		}
		date := time.Unix(ts+result.Meta.GMTOffset, 0).UTC().Format(tool.DateLayout)
		if date < first || date > last {
			continue
		}
		bar := Bar{Date: date, Open: *open, High: *high, Low: *low, Close: *closePrice}
		if volume := at(quote.Volume, i); volume != nil {
			bar.Volume = *volume
		}
		series = append(series, bar)
	}
	slices.SortStableFunc(series, func(a, b Bar) int { return strings.Compare(a.Date, b.Date) })
	return series, nil
}

type timeseriesResponse struct {
	Timeseries struct {
		Result []map[string]json.RawMessage `json:"result"`
		Error  *yahooError                  `json:"error"`
	} `json:"timeseries"`
}

type timeseriesMeta struct {
	Type []string `json:"type"`
}

type timeseriesPoint struct {
	AsOfDate      string `json:"asOfDate"`
	ReportedValue struct {
		Raw *float64 `json:"raw"`
	} `json:"reportedValue"`
}

// BalanceSheet returns annual balance sheet line items.
func (y *Yahoo) BalanceSheet(ctx context.Context, ticker string) (BalanceSheet, error) {
	types := make([]string, 0, len(balanceSheetTypes))
	for _, name := range balanceSheetTypes {
		types = append(types, "annual"+name)
	}
	query := url.Values{
		"symbol":  {ticker},
		"type":    {strings.Join(types, ",")},
		"period1": {"493590046"},
		"period2": {strconv.FormatInt(y.now().Unix(), 10)},
	}

	var resp timeseriesResponse
	err := y.http.GetJSON(ctx, "/ws/fundamentals-timeseries/v1/finance/timeseries/"+url.PathEscape(ticker), query, &resp)
	if err != nil {
		return BalanceSheet{}, notFoundFor(ticker, err)
	}
	if resp.Timeseries.Error != nil {
		return BalanceSheet{}, resp.Timeseries.Error.toolError(ticker)
	}

	values := make(map[string]map[string]float64, len(balanceSheetTypes))
	periodSet := make(map[string]struct{})
	for _, result := range resp.Timeseries.Result {
		var meta timeseriesMeta
		if raw, ok := result["meta"]; !ok || json.Unmarshal(raw, &meta) != nil || len(meta.Type) == 0 {
			continue
		}
		typ := meta.Type[0]
		raw, ok := result[typ]
		if !ok {
			continue
		}
		var points []*timeseriesPoint
		if err := json.Unmarshal(raw, &points); err != nil {
			return BalanceSheet{}, tool.Wrap(tool.KindUpstream, err, fmt.Sprintf("yahoo: malformed %s series", typ))
		}
		name := strings.TrimPrefix(typ, "annual")
		for _, point := range points {
			if point == nil || point.ReportedValue.Raw == nil || point.AsOfDate == "" {
				continue
			}
			if values[name] == nil {
				values[name] = make(map[string]float64)
			}
			values[name][point.AsOfDate] = *point.ReportedValue.Raw
			periodSet[point.AsOfDate] = struct{}{}
		}
	}

	if len(values) == 0 {
		return BalanceSheet{}, tool.Errorf(tool.KindNotFound, "no balance sheet data for %s", ticker).
			WithDetails(map[string]any{"upstream": "yahoo", "ticker": ticker})
	}

	sheet := BalanceSheet{Ticker: ticker, Periods: make([]string, 0, len(periodSet))}
	for period := range periodSet {
		sheet.Periods = append(sheet.Periods, period)
	}
	slices.Sort(sheet.Periods)
	slices.Reverse(sheet.Periods)
	for _, name := range balanceSheetTypes {
		if row, ok := values[name]; ok {
			sheet.Items = append(sheet.Items, LineItem{Name: name, Values: row})
		}
	}
	return sheet, nil
}

type searchResponse struct {
	News []struct {
		Title               string `json:"title"`
		Publisher           string `json:"publisher"`
		Link                string `json:"link"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

// News returns recent headlines for ticker.
func (y *Yahoo) News(ctx context.Context, ticker string) ([]NewsItem, error) {
	var resp searchResponse
	err := y.http.GetJSON(ctx, "/v1/finance/search", url.Values{
		"q":           {ticker},
		"quotesCount": {"0"},
		"newsCount":   {strconv.Itoa(y.newsCount)},
	}, &resp)
	if err != nil {
		return nil, upstream.MissingAsUpstream(err)
	}

	items := make([]NewsItem, 0, len(resp.News))
	for _, n := range resp.News {
		if strings.TrimSpace(n.Title) == "" {
			continue
		}
		items = append(items, NewsItem{
			Title:       n.Title,
			URL:         n.Link,
			Publisher:   n.Publisher,
			PublishedAt: time.Unix(n.ProviderPublishTime, 0).UTC(),
		})
	}
	slices.SortStableFunc(items, func(a, b NewsItem) int { return b.PublishedAt.Compare(a.PublishedAt) })
	return items, nil
}

// notFoundFor names the ticker in NotFound errors from the transport.
func notFoundFor(ticker string, err error) error {
	if toolErr, ok := tool.AsError(err); ok && toolErr.Kind == tool.KindNotFound {
		return tool.Wrap(tool.KindNotFound, err, fmt.Sprintf("ticker %s not found", ticker)).
			WithDetails(map[string]any{"upstream": "yahoo", "ticker": ticker})
	}
	return err
}

func at[T any](values []*T, i int) *T {
	if i < 0 || i >= len(values) {
		return nil
	}
	return values[i]
}
