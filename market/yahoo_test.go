package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/petal-labs/finagent/tool"
	"github.com/petal-labs/finagent/upstream"
)

const chartFixture = `{"chart":{"result":[{
	"meta":{"symbol":"NVDA","regularMarketPrice":135.1,"gmtoffset":-18000},
	"timestamp":[1704465000,1704724200,1704810600],
	"indicators":{"quote":[{
		"open":[48.9,49.5,52.2],
		"high":[49.5,52.3,54.3],
		"low":[48.3,49.1,51.7],
		"close":[49.1,52.3,null],
		"volume":[415000000,642000000,null]
	}]}
}],"error":null}}`

func newYahooServer(t *testing.T, handler http.HandlerFunc) *Yahoo {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := upstream.New(upstream.Config{Name: "yahoo", BaseURL: server.URL})
	return NewYahoo(client, WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	}))
}

func TestYahooPriceUsesLastClose(t *testing.T) {
	y := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v8/finance/chart/NVDA" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(chartFixture))
	})

	price, err := y.Price(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("Price() error = %v", err)
	}
	if price != 52.3 {
		t.Fatalf("Price() = %v, want 52.3", price)
	}
}

func TestYahooPriceNotFound(t *testing.T) {
	y := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	})

	_, err := y.Price(context.Background(), "ZZZZ")
	if !errors.Is(err, tool.ErrNotFound) {
		t.Fatalf("Price() error = %v, want NotFound", err)
	}
}

func TestYahooHistory(t *testing.T) {
	y := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("interval") != "1d" || q.Get("period1") == "" || q.Get("period2") == "" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(chartFixture))
	})

	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	series, err := y.History(context.Background(), "NVDA", start, end)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("len(series) = %d, want 2 (null close skipped)", len(series))
	}
	if series[0].Date != "2024-01-05" || series[1].Date != "2024-01-08" {
		t.Fatalf("dates = %s, %s", series[0].Date, series[1].Date)
	}
	byDate := series.ByDate()
	if bar, ok := byDate["2024-01-08"]; !ok || bar.Close != 52.3 {
		t.Fatalf("ByDate()[2024-01-08] = %+v, %v", bar, ok)
	}
	if _, ok := byDate["2024-01-09"]; ok {
		t.Fatal("ByDate() has a bar for the null-close day")
	}

	raw, err := json.Marshal(series)
	if err != nil {
		t.Fatalf("Marshal(series) error = %v", err)
	}
	want := `{"2024-01-05":{"open":48.9,"high":49.5,"low":48.3,"close":49.1,"volume":415000000},` +
		`"2024-01-08":{"open":49.5,"high":52.3,"low":49.1,"close":52.3,"volume":642000000}}`
	if string(raw) != want {
		t.Fatalf("series JSON = %s", raw)
	}
}

func TestYahooHistoryRejectsInvertedRange(t *testing.T) {
	y := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream contacted for an inverted range")
	})
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if _, err := y.History(context.Background(), "NVDA", start, end); !errors.Is(err, tool.ErrInvalidRange) {
		t.Fatalf("History() error = %v, want InvalidRange", err)
	}
}

func TestYahooBalanceSheet(t *testing.T) {
	y := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "AAPL" {
			t.Errorf("symbol = %q", r.URL.Query().Get("symbol"))
		}
		_, _ = w.Write([]byte(`{"timeseries":{"result":[
			{"meta":{"symbol":["AAPL"],"type":["annualTotalAssets"]},
			 "annualTotalAssets":[
				{"asOfDate":"2022-09-30","reportedValue":{"raw":352755000000}},
				{"asOfDate":"2023-09-30","reportedValue":{"raw":352583000000}}]},
			{"meta":{"symbol":["AAPL"],"type":["annualTotalDebt"]},
			 "annualTotalDebt":[null,{"asOfDate":"2023-09-30","reportedValue":{"raw":111088000000}}]},
			{"meta":{"symbol":["AAPL"],"type":["annualInventory"]}}
		],"error":null}}`))
	})

	sheet, err := y.BalanceSheet(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("BalanceSheet() error = %v", err)
	}
	if len(sheet.Periods) != 2 || sheet.Periods[0] != "2023-09-30" {
		t.Fatalf("periods = %v, want newest first", sheet.Periods)
	}
	if len(sheet.Items) != 2 || sheet.Items[0].Name != "TotalAssets" || sheet.Items[1].Name != "TotalDebt" {
		t.Fatalf("items = %+v", sheet.Items)
	}
	if got := sheet.Items[1].Values["2023-09-30"]; got != 111088000000 {
		t.Fatalf("TotalDebt 2023 = %v", got)
	}
}

func TestYahooBalanceSheetEmptyIsNotFound(t *testing.T) {
	y := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"timeseries":{"result":[],"error":null}}`))
	})
	if _, err := y.BalanceSheet(context.Background(), "ZZZZ"); !errors.Is(err, tool.ErrNotFound) {
		t.Fatalf("BalanceSheet() error = %v, want NotFound", err)
	}
}

func TestYahooNews(t *testing.T) {
	y := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "NVDA" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		_, _ = w.Write([]byte(`{"news":[
			{"title":"Older","publisher":"Reuters","link":"https://example.com/a","providerPublishTime":1704465000},
			{"title":"Newer","publisher":"Bloomberg","link":"https://example.com/b","providerPublishTime":1704810600}
		]}`))
	})

	items, err := y.News(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("News() error = %v", err)
	}
	if len(items) != 2 || items[0].Title != "Newer" {
		t.Fatalf("items = %+v", items)
	}
}

func TestYahooNewsEmpty(t *testing.T) {
	y := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"news":[]}`))
	})
	items, err := y.News(context.Background(), "NVDA")
	if err != nil {
		t.Fatalf("News() error = %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Fatalf("items = %#v, want empty non-nil slice", items)
	}
}

func TestYahooNewsMissingEndpointIsUpstream(t *testing.T) {
	y := newYahooServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := y.News(context.Background(), "NVDA")
	if kind := tool.KindOf(err); kind != tool.KindUpstream {
		t.Fatalf("News() error kind = %s, want UpstreamError (err %v)", kind, err)
	}
	if errors.Is(err, tool.ErrNotFound) {
		t.Fatal("News() error still matches ErrNotFound")
	}
}
