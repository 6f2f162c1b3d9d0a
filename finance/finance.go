// Package finance defines the agent-callable financial tools: stock price,
// price history, balance sheet, news and web search. Each adapter validates
// its inputs before it contacts a provider and reports every outcome as a
// tool.Result.
package finance

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/petal-labs/finagent/market"
	"github.com/petal-labs/finagent/search"
	"github.com/petal-labs/finagent/tool"
)

// Tool names as exposed to the model.
const (
	ToolStockPrice      = "get_stock_price"
	ToolHistoricalPrice = "get_historical_stock_price"
	ToolBalanceSheet    = "get_balance_sheet"
	ToolStockNews       = "get_stock_news"
	ToolWebSearch       = "web_search"
)

// tickerPattern accepts exchange symbols such as NVDA, BRK-B, RDS.A, ^GSPC
// and EURUSD=X.
var tickerPattern = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-=^]{0,14}$`)

var tickerParam = tool.Param{
	Name:        "ticker",
	Type:        tool.TypeString,
	Required:    true,
	Description: "Ticker symbol, e.g. NVDA.",
}

// Deps are the provider clients the tools delegate to.
type Deps struct {
	Market market.Client
	Search search.Client
	Logger *slog.Logger
}

// NewToolset builds the five financial tools in their canonical order.
func NewToolset(deps Deps) ([]tool.Adapter, error) {
	missing := make([]string, 0, 2)
	if deps.Market == nil {
		missing = append(missing, "market")
	}
	if deps.Search == nil {
		missing = append(missing, "search")
	}
	if len(missing) > 0 {
		return nil, tool.Errorf(tool.KindAssembly, "finance: missing provider clients: %s", strings.Join(missing, ", ")).
			WithDetails(map[string]any{"fields": missing})
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return []tool.Adapter{
		NewStockPriceTool(deps.Market, logger),
		NewHistoricalPriceTool(deps.Market, logger),
		NewBalanceSheetTool(deps.Market, logger),
		NewStockNewsTool(deps.Market, logger),
		NewWebSearchTool(deps.Search, logger),
	}, nil
}

// NewRegistry builds the toolset and registers it.
func NewRegistry(deps Deps) (*tool.Registry, error) {
	adapters, err := NewToolset(deps)
	if err != nil {
		return nil, err
	}
	return tool.NewRegistry(adapters...)
}

// tickerArg returns the normalized ticker, or a ValidationError naming the
// field when it is not a plausible symbol.
func tickerArg(args map[string]any) (string, error) {
	ticker := strings.ToUpper(tool.StringArg(args, "ticker"))
	if !tickerPattern.MatchString(ticker) {
		return "", tool.Errorf(tool.KindValidation, "ticker %q is not a valid symbol", tool.Truncate(ticker, tool.LogPreviewLimit)).
			WithDetails(map[string]any{"fields": []string{"ticker"}})
	}
	return ticker, nil
}

// NewStockPriceTool returns get_stock_price.
func NewStockPriceTool(client market.Client, logger *slog.Logger) tool.Adapter {
	desc := tool.Descriptor{
		Name:        ToolStockPrice,
		Description: "Returns the latest stock price for a ticker symbol, e.g. NVDA.",
		Inputs:      []tool.Param{tickerParam},
	}
	return tool.NewFunc(desc, func(ctx context.Context, args map[string]any) tool.Result {
		ticker, err := tickerArg(args)
		if err != nil {
			return tool.FailureFrom(err)
		}
		logger.Info("fetching stock price", "tool", ToolStockPrice, "ticker", ticker)
		price, err := client.Price(ctx, ticker)
		if err != nil {
			return tool.FailureFrom(err)
		}
		return tool.Success(price)
	})
}

// NewHistoricalPriceTool returns get_historical_stock_price. Both dates are
// inclusive; a start after the end fails with InvalidRange before any
// provider call.
func NewHistoricalPriceTool(client market.Client, logger *slog.Logger) tool.Adapter {
	desc := tool.Descriptor{
		Name:        ToolHistoricalPrice,
		Description: "Returns daily historical prices (open, high, low, close, volume) for a ticker symbol, e.g. NVDA, between two dates in YYYY-MM-DD format.",
		Inputs: []tool.Param{
			tickerParam,
			{Name: "start_date", Type: tool.TypeDate, Required: true, Description: "First day of the range, YYYY-MM-DD."},
			{Name: "end_date", Type: tool.TypeDate, Required: true, Description: "Last day of the range, YYYY-MM-DD."},
		},
	}
	return tool.NewFunc(desc, func(ctx context.Context, args map[string]any) tool.Result {
		ticker, err := tickerArg(args)
		if err != nil {
			return tool.FailureFrom(err)
		}
		start, err := tool.DateArg(args, "start_date")
		if err != nil {
			return tool.FailureFrom(err)
		}
		end, err := tool.DateArg(args, "end_date")
		if err != nil {
			return tool.FailureFrom(err)
		}
		if start.After(end) {
			return tool.FailureFrom(tool.Errorf(tool.KindInvalidRange, "start_date %s is after end_date %s",
				start.Format(tool.DateLayout), end.Format(tool.DateLayout)).
				WithDetails(map[string]any{"fields": []string{"start_date", "end_date"}}))
		}
		logger.Info("fetching historical stock price",
			"tool", ToolHistoricalPrice,
			"ticker", ticker,
			"start_date", start.Format(tool.DateLayout),
			"end_date", end.Format(tool.DateLayout),
		)
		series, err := client.History(ctx, ticker, start, end)
		if err != nil {
			return tool.FailureFrom(err)
		}
		return tool.Success(series)
	})
}

// NewBalanceSheetTool returns get_balance_sheet.
func NewBalanceSheetTool(client market.Client, logger *slog.Logger) tool.Adapter {
	desc := tool.Descriptor{
		Name:        ToolBalanceSheet,
		Description: "Returns the annual balance sheet of a ticker symbol, e.g. NVDA, as line items by reporting period.",
		Inputs:      []tool.Param{tickerParam},
	}
	return tool.NewFunc(desc, func(ctx context.Context, args map[string]any) tool.Result {
		ticker, err := tickerArg(args)
		if err != nil {
			return tool.FailureFrom(err)
		}
		logger.Info("fetching balance sheet", "tool", ToolBalanceSheet, "ticker", ticker)
		sheet, err := client.BalanceSheet(ctx, ticker)
		if err != nil {
			return tool.FailureFrom(err)
		}
		return tool.Success(sheet)
	})
}

// NewStockNewsTool returns get_stock_news.
func NewStockNewsTool(client market.Client, logger *slog.Logger) tool.Adapter {
	desc := tool.Descriptor{
		Name:        ToolStockNews,
		Description: "Returns the latest news related to a ticker symbol, e.g. NVDA.",
		Inputs:      []tool.Param{tickerParam},
	}
	return tool.NewFunc(desc, func(ctx context.Context, args map[string]any) tool.Result {
		ticker, err := tickerArg(args)
		if err != nil {
			return tool.FailureFrom(err)
		}
		logger.Info("fetching news", "tool", ToolStockNews, "ticker", ticker)
		items, err := client.News(ctx, ticker)
		if err != nil {
			return tool.FailureFrom(err)
		}
		if items == nil {
			items = []market.NewsItem{}
		}
		return tool.Success(items)
	})
}

// NewWebSearchTool returns web_search.
func NewWebSearchTool(client search.Client, logger *slog.Logger) tool.Adapter {
	desc := tool.Descriptor{
		Name:        ToolWebSearch,
		Description: "Searches the web and returns ranked results with title, url and snippet.",
		Inputs: []tool.Param{
			{Name: "query", Type: tool.TypeString, Required: true, Description: "Web search query."},
		},
	}
	return tool.NewFunc(desc, func(ctx context.Context, args map[string]any) tool.Result {
		query := tool.StringArg(args, "query")
		logger.Info("executing web search",
			"tool", ToolWebSearch,
			"query", tool.Truncate(query, tool.LogPreviewLimit),
		)
		results, err := client.Search(ctx, query)
		if err != nil {
			return tool.FailureFrom(err)
		}
		if results == nil {
			results = []search.Result{}
		}
		return tool.Success(results)
	})
}
