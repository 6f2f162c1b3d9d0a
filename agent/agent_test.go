package agent

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	iriscore "github.com/petal-labs/iris/core"

	"github.com/petal-labs/finagent/chat"
	"github.com/petal-labs/finagent/config"
	"github.com/petal-labs/finagent/finance"
	"github.com/petal-labs/finagent/market"
	"github.com/petal-labs/finagent/memory"
	"github.com/petal-labs/finagent/search"
	"github.com/petal-labs/finagent/tool"
)

// scriptedProvider implements iriscore.Provider, answering each Chat call
// with the next scripted response.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []*iriscore.ChatResponse
	err       error
	requests  []iriscore.ChatRequest
}

func (p *scriptedProvider) ID() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req *iriscore.ChatRequest) (*iriscore.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snapshot := *req
	snapshot.Messages = slices.Clone(req.Messages)
	p.requests = append(p.requests, snapshot)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &iriscore.ChatResponse{Output: "out of script"}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedProvider) StreamChat(context.Context, *iriscore.ChatRequest) (*iriscore.ChatStream, error) {
	return nil, nil
}

func (p *scriptedProvider) Models() []iriscore.ModelInfo {
	return []iriscore.ModelInfo{{ID: "scripted-model"}}
}

func (p *scriptedProvider) Supports(f iriscore.Feature) bool {
	return f == iriscore.FeatureChat
}

func (p *scriptedProvider) calls() []iriscore.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

type stubMarket struct {
	prices map[string]float64
	calls  int
}

func (m *stubMarket) Price(_ context.Context, ticker string) (float64, error) {
	m.calls++
	price, ok := m.prices[ticker]
	if !ok {
		return 0, tool.Errorf(tool.KindNotFound, "no price data for %s", ticker)
	}
	return price, nil
}

func (m *stubMarket) History(context.Context, string, time.Time, time.Time) (market.Series, error) {
	return market.Series{}, nil
}

func (m *stubMarket) BalanceSheet(_ context.Context, ticker string) (market.BalanceSheet, error) {
	return market.BalanceSheet{Ticker: ticker}, nil
}

func (m *stubMarket) News(context.Context, string) ([]market.NewsItem, error) {
	return []market.NewsItem{}, nil
}

type stubSearch struct{}

func (stubSearch) Search(context.Context, string) ([]search.Result, error) {
	return []search.Result{}, nil
}

func toolCall(id, name, args string) iriscore.ToolCall {
	return iriscore.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func validRequest(content string) chat.Request {
	return chat.Request{
		Prompt:     chat.Prompt{Content: content, ID: "msg-1", Role: chat.RoleUser},
		ThreadID:   "thread-1",
		ResponseID: "resp-1",
	}
}

func newTestAgent(t *testing.T, provider iriscore.Provider, mkt market.Client) (*Agent, memory.Store) {
	t.Helper()
	registry, err := finance.NewRegistry(finance.Deps{Market: mkt, Search: stubSearch{}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	runtime, err := NewIrisRuntime(IrisRuntimeConfig{Provider: provider, Model: "test-model", MaxTurns: 4})
	if err != nil {
		t.Fatalf("NewIrisRuntime: %v", err)
	}
	store := memory.NewMemStore()
	ag, err := New(Config{Runtime: runtime, Memory: store, Tools: registry, System: "be brief"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ag, store
}

func fieldsOf(err error) []string {
	var toolErr *tool.Error
	if !errors.As(err, &toolErr) {
		return nil
	}
	fields, _ := toolErr.Details["fields"].([]string)
	return fields
}

func TestAsk_StockPriceToolCall(t *testing.T) {
	provider := &scriptedProvider{responses: []*iriscore.ChatResponse{
		{ToolCalls: []iriscore.ToolCall{toolCall("call-1", finance.ToolStockPrice, `{"ticker":"NVDA"}`)}},
		{Output: "NVDA last closed at 134.5."},
	}}
	mkt := &stubMarket{prices: map[string]float64{"NVDA": 134.5}}
	ag, store := newTestAgent(t, provider, mkt)

	resp, err := ag.Ask(context.Background(), validRequest("What is NVDA trading at?"))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Content != "NVDA last closed at 134.5." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.ThreadID != "thread-1" || resp.ResponseID != "resp-1" {
		t.Errorf("ids = %q/%q, want thread-1/resp-1", resp.ThreadID, resp.ResponseID)
	}
	if resp.MessageID == "" {
		t.Error("MessageID is empty")
	}
	if resp.Role != chat.RoleAssistant {
		t.Errorf("Role = %q, want assistant", resp.Role)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.ID != "call-1" || call.Name != finance.ToolStockPrice {
		t.Errorf("call = %+v", call)
	}
	if !call.Result.OK() || call.Result.Payload != 134.5 {
		t.Errorf("Result = %+v, want Success(134.5)", call.Result)
	}

	reqs := provider.calls()
	if len(reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(reqs))
	}
	if len(reqs[0].Tools) != 5 {
		t.Errorf("tools offered = %d, want 5", len(reqs[0].Tools))
	}
	if reqs[0].Messages[0].Role != iriscore.RoleSystem || reqs[0].Messages[0].Content != "be brief" {
		t.Errorf("first message = %+v, want system prompt", reqs[0].Messages[0])
	}
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if last.Role != iriscore.RoleTool || len(last.ToolResults) != 1 {
		t.Fatalf("last message = %+v, want one tool result", last)
	}
	if last.ToolResults[0].CallID != "call-1" || last.ToolResults[0].IsError {
		t.Errorf("tool result = %+v", last.ToolResults[0])
	}

	history, err := store.Load(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d messages, want 2", len(history))
	}
	if history[0].Role != chat.RoleUser || history[1].Role != chat.RoleAssistant {
		t.Errorf("history roles = %s, %s", history[0].Role, history[1].Role)
	}
}

func TestStream_EventOrder(t *testing.T) {
	provider := &scriptedProvider{responses: []*iriscore.ChatResponse{
		{ToolCalls: []iriscore.ToolCall{
			toolCall("a", finance.ToolStockPrice, `{"ticker":"NVDA"}`),
			toolCall("b", finance.ToolStockNews, `{"ticker":"NVDA"}`),
		}},
		{Output: "done"},
	}}
	ag, _ := newTestAgent(t, provider, &stubMarket{prices: map[string]float64{"NVDA": 1}})

	var kinds []EventKind
	for ev, err := range ag.Stream(context.Background(), validRequest("hi")) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		if ev.ThreadID != "thread-1" || ev.ResponseID != "resp-1" {
			t.Errorf("%s event ids = %q/%q", ev.Kind, ev.ThreadID, ev.ResponseID)
		}
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{EventStarted, EventToolCall, EventToolResult, EventToolCall, EventToolResult, EventFinal}
	if !slices.Equal(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestStream_StopsWhenConsumerBreaks(t *testing.T) {
	provider := &scriptedProvider{responses: []*iriscore.ChatResponse{{Output: "done"}}}
	ag, store := newTestAgent(t, provider, &stubMarket{})

	for ev := range ag.Stream(context.Background(), validRequest("hi")) {
		if ev.Kind != EventStarted {
			t.Fatalf("first event = %s, want %s", ev.Kind, EventStarted)
		}
		break
	}
	if n := len(provider.calls()); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
	history, _ := store.Load(context.Background(), "thread-1")
	if len(history) != 0 {
		t.Errorf("history = %d, want 0", len(history))
	}
}

func TestAsk_InvalidRequest(t *testing.T) {
	provider := &scriptedProvider{}
	ag, _ := newTestAgent(t, provider, &stubMarket{})

	req := validRequest("")
	req.ThreadID = "  "
	_, err := ag.Ask(context.Background(), req)
	if tool.KindOf(err) != tool.KindValidation {
		t.Fatalf("kind = %q, want %q (err=%v)", tool.KindOf(err), tool.KindValidation, err)
	}
	fields := fieldsOf(err)
	if !slices.Contains(fields, chat.FieldPromptContent) || !slices.Contains(fields, chat.FieldThreadID) {
		t.Errorf("fields = %v, want prompt.content and threadId", fields)
	}
	if n := len(provider.calls()); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

func TestAsk_ProviderErrorIsUpstream(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("connection refused")}
	ag, store := newTestAgent(t, provider, &stubMarket{})

	var failed *Event
	for ev, err := range ag.Stream(context.Background(), validRequest("hi")) {
		if err != nil {
			if tool.KindOf(err) != tool.KindUpstream {
				t.Errorf("kind = %q, want %q", tool.KindOf(err), tool.KindUpstream)
			}
			failed = &ev
		}
	}
	if failed == nil || failed.Kind != EventFailed {
		t.Fatalf("failed event = %+v, want %s", failed, EventFailed)
	}
	history, _ := store.Load(context.Background(), "thread-1")
	if len(history) != 0 {
		t.Errorf("history = %d messages, want 0", len(history))
	}
}

func TestAsk_ToolFailureIsFedBack(t *testing.T) {
	provider := &scriptedProvider{responses: []*iriscore.ChatResponse{
		{ToolCalls: []iriscore.ToolCall{toolCall("c", finance.ToolStockPrice, `{"ticker":"ZZZZ"}`)}},
		{Output: "I could not find that ticker."},
	}}
	ag, _ := newTestAgent(t, provider, &stubMarket{})

	resp, err := ag.Ask(context.Background(), validRequest("price of ZZZZ"))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Result.OK() {
		t.Fatalf("ToolCalls = %+v, want one failure", resp.ToolCalls)
	}
	if kind := resp.ToolCalls[0].Result.Failure.Kind; kind != tool.KindNotFound {
		t.Errorf("failure kind = %q, want %q", kind, tool.KindNotFound)
	}
	reqs := provider.calls()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	if !last.ToolResults[0].IsError {
		t.Error("tool result IsError = false, want true")
	}
}

func TestAsk_UnknownToolIsValidationFailure(t *testing.T) {
	provider := &scriptedProvider{responses: []*iriscore.ChatResponse{
		{ToolCalls: []iriscore.ToolCall{toolCall("x", "get_weather", `{}`)}},
		{Output: "sorry"},
	}}
	ag, _ := newTestAgent(t, provider, &stubMarket{})

	resp, err := ag.Ask(context.Background(), validRequest("weather?"))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if kind := resp.ToolCalls[0].Result.Failure.Kind; kind != tool.KindValidation {
		t.Errorf("failure kind = %q, want %q", kind, tool.KindValidation)
	}
}

func TestAsk_HistoryReplayedOnNextTurn(t *testing.T) {
	provider := &scriptedProvider{responses: []*iriscore.ChatResponse{
		{Output: "first answer"},
		{Output: "second answer"},
	}}
	ag, _ := newTestAgent(t, provider, &stubMarket{})

	if _, err := ag.Ask(context.Background(), validRequest("first question")); err != nil {
		t.Fatalf("first Ask: %v", err)
	}
	req := validRequest("second question")
	req.Prompt.ID = "msg-2"
	req.ResponseID = "resp-2"
	if _, err := ag.Ask(context.Background(), req); err != nil {
		t.Fatalf("second Ask: %v", err)
	}

	msgs := provider.calls()[1].Messages
	got := make([]string, 0, len(msgs))
	for _, m := range msgs {
		got = append(got, m.Content)
	}
	want := []string{"be brief", "first question", "first answer", "second question"}
	if !slices.Equal(got, want) {
		t.Errorf("messages = %q, want %q", got, want)
	}
}

func TestIrisRuntime_MaxTurnsExceeded(t *testing.T) {
	loop := &iriscore.ChatResponse{ToolCalls: []iriscore.ToolCall{toolCall("l", finance.ToolStockPrice, `{"ticker":"NVDA"}`)}}
	provider := &scriptedProvider{responses: []*iriscore.ChatResponse{loop, loop, loop, loop, loop}}
	ag, _ := newTestAgent(t, provider, &stubMarket{prices: map[string]float64{"NVDA": 1}})

	_, err := ag.Ask(context.Background(), validRequest("loop"))
	if tool.KindOf(err) != tool.KindUpstream {
		t.Fatalf("kind = %q, want %q (err=%v)", tool.KindOf(err), tool.KindUpstream, err)
	}
	if n := len(provider.calls()); n != 4 {
		t.Errorf("provider calls = %d, want 4", n)
	}
}

func TestNew_MissingCollaborators(t *testing.T) {
	_, err := New(Config{})
	if tool.KindOf(err) != tool.KindAssembly {
		t.Fatalf("kind = %q, want %q", tool.KindOf(err), tool.KindAssembly)
	}
	if got := fieldsOf(err); !slices.Equal(got, []string{"runtime", "memory", "tools"}) {
		t.Errorf("fields = %v", got)
	}
}

func TestNewIrisRuntime_RequiresProviderAndModel(t *testing.T) {
	if _, err := NewIrisRuntime(IrisRuntimeConfig{Model: "m"}); tool.KindOf(err) != tool.KindAssembly {
		t.Errorf("nil provider: kind = %q", tool.KindOf(err))
	}
	if _, err := NewIrisRuntime(IrisRuntimeConfig{Provider: &scriptedProvider{}, Model: " "}); tool.KindOf(err) != tool.KindAssembly {
		t.Errorf("blank model: kind = %q", tool.KindOf(err))
	}
}

func TestAgent_CustomRuntime(t *testing.T) {
	runtime := RuntimeFunc(func(_ context.Context, turn Turn) iter.Seq2[Event, error] {
		return func(yield func(Event, error) bool) {
			final := NewEvent(EventFinal)
			final.Text = "echo: " + turn.Prompt.Content
			yield(final, nil)
		}
	})
	registry, err := finance.NewRegistry(finance.Deps{Market: &stubMarket{}, Search: stubSearch{}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ag, err := New(Config{Runtime: runtime, Memory: memory.NewMemStore(), Tools: registry})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := ag.Ask(context.Background(), validRequest("ping"))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Content != "echo: ping" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestAgent_RuntimeWithoutAnswerFails(t *testing.T) {
	runtime := RuntimeFunc(func(context.Context, Turn) iter.Seq2[Event, error] {
		return func(func(Event, error) bool) {}
	})
	registry, _ := finance.NewRegistry(finance.Deps{Market: &stubMarket{}, Search: stubSearch{}})
	ag, err := New(Config{Runtime: runtime, Memory: memory.NewMemStore(), Tools: registry})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := ag.Ask(context.Background(), validRequest("ping")); tool.KindOf(err) != tool.KindUpstream {
		t.Errorf("kind = %q, want %q", tool.KindOf(err), tool.KindUpstream)
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.LLM.Name = "test-model"
	cfg.LLM.BaseURL = "http://localhost:11434"
	cfg.LLM.Provider = config.LLMProviderOllama
	cfg.Search.Provider = config.SearchDuckDuckGo
	return cfg
}

func TestAssemble_ReportsAllMissingSettings(t *testing.T) {
	cfg := config.Default()
	_, err := Assemble(context.Background(), cfg, Options{})
	if tool.KindOf(err) != tool.KindAssembly {
		t.Fatalf("kind = %q, want %q", tool.KindOf(err), tool.KindAssembly)
	}
	fields := fieldsOf(err)
	for _, want := range []string{config.EnvLLMName, config.EnvLLMBaseURL, config.EnvLLMAPIKey, config.EnvTavilyAPIKey} {
		if !slices.Contains(fields, want) {
			t.Errorf("fields = %v, missing %s", fields, want)
		}
	}
}

func TestAssemble_WithInjectedCollaborators(t *testing.T) {
	provider := &scriptedProvider{responses: []*iriscore.ChatResponse{
		{ToolCalls: []iriscore.ToolCall{toolCall("call-1", finance.ToolStockPrice, `{"ticker":"nvda"}`)}},
		{Output: "134.5"},
	}}
	mkt := &stubMarket{prices: map[string]float64{"NVDA": 134.5}}
	cfg := testConfig()
	cfg.Memory.Retention = time.Hour

	asm, err := Assemble(context.Background(), cfg, Options{Provider: provider, Market: mkt, Search: stubSearch{}})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	defer func() {
		if err := asm.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()
	if asm.Pruner == nil {
		t.Error("Pruner = nil with retention set")
	}
	if asm.Tools.Len() != 5 {
		t.Errorf("tools = %d, want 5", asm.Tools.Len())
	}

	resp, err := asm.Agent.Ask(context.Background(), validRequest("NVDA?"))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.ToolCalls[0].Result.Payload != 134.5 {
		t.Errorf("payload = %v, want 134.5", resp.ToolCalls[0].Result.Payload)
	}
	if mkt.calls != 1 {
		t.Errorf("market calls = %d, want 1", mkt.calls)
	}
}

func TestAssembleTools_SkipsModelSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Search.Provider = config.SearchDuckDuckGo
	registry, closeFn, err := AssembleTools(cfg, Options{})
	if err != nil {
		t.Fatalf("AssembleTools: %v", err)
	}
	defer closeFn()
	names := make([]string, 0, registry.Len())
	for _, desc := range registry.Descriptors() {
		names = append(names, desc.Name)
	}
	want := []string{finance.ToolStockPrice, finance.ToolHistoricalPrice, finance.ToolBalanceSheet, finance.ToolStockNews, finance.ToolWebSearch}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestNewProvider(t *testing.T) {
	if _, err := NewProvider(config.LLMConfig{Provider: "bedrock"}); tool.KindOf(err) != tool.KindAssembly {
		t.Errorf("unsupported provider: kind = %q", tool.KindOf(err))
	}
	if _, err := NewProvider(config.LLMConfig{Provider: config.LLMProviderOpenAI}); tool.KindOf(err) != tool.KindAssembly {
		t.Errorf("missing key: kind = %q", tool.KindOf(err))
	}
	p, err := NewProvider(config.LLMConfig{Provider: config.LLMProviderOllama, BaseURL: "http://localhost:11434/"})
	if err != nil || p == nil {
		t.Fatalf("ollama: provider=%v err=%v", p, err)
	}
}

func TestNewMemoryStore_SQLite(t *testing.T) {
	store, err := NewMemoryStore(config.MemoryConfig{DSN: "file:" + t.TempDir() + "/memory.db"})
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*memory.SQLiteStore); !ok {
		t.Errorf("store = %T, want *memory.SQLiteStore", store)
	}
}
