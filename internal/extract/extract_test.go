package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/tabula/internal/gatekeeper"
	"github.com/jackzampolin/tabula/internal/normalize"
	"github.com/jackzampolin/tabula/internal/prompts"
	"github.com/jackzampolin/tabula/internal/prompts/fixer"
	"github.com/jackzampolin/tabula/internal/prompts/ocr"
	"github.com/jackzampolin/tabula/internal/prompts/summarize"
	"github.com/jackzampolin/tabula/internal/prompts/translate"
	"github.com/jackzampolin/tabula/internal/providers"
	"github.com/jackzampolin/tabula/internal/sheet"
	"github.com/jackzampolin/tabula/internal/store"
	"github.com/jackzampolin/tabula/internal/telemetry"
)

type fakeGateway struct {
	mu       sync.Mutex
	requests []gatekeeper.Request
	result   *gatekeeper.Result
	err      error
}

func (f *fakeGateway) Handle(ctx context.Context, req gatekeeper.Request) (*gatekeeper.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeGateway) last(t *testing.T) gatekeeper.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func reply(text string) *gatekeeper.Result {
	res := &gatekeeper.Result{Text: text, Model: "gemini-2.0-flash"}
	res.Usage.InputTokens = 100
	res.Usage.OutputTokens = 40
	return res
}

func newResolver() *prompts.Resolver {
	r := prompts.NewResolver(nil)
	ocr.RegisterPrompts(r)
	fixer.RegisterPrompts(r)
	translate.RegisterPrompts(r)
	summarize.RegisterPrompts(r)
	return r
}

func newService(gw Gateway) (*Service, *telemetry.Log) {
	usage := telemetry.NewLog(telemetry.Config{})
	svc := New(Config{Gateway: gw, Prompts: newResolver(), Usage: usage})
	return svc, usage
}

const menuReply = `[["Name","Item_Online_DisplayName","Variation_Name","Price","Category"],["Coffee Hot/Cold","","","120","Drinks"]]`

func TestExtract(t *testing.T) {
	gw := &fakeGateway{result: reply(menuReply)}
	svc, usage := newService(gw)

	out, err := svc.Extract(context.Background(), Request{
		User:  "alice@example.com",
		Parts: []providers.Part{providers.NewInlinePart([]byte("img"), "image/png")},
	})
	require.NoError(t, err)

	assert.Equal(t, normalize.ModeAISheet, out.Mode)
	assert.Equal(t, "gemini-2.0-flash", out.Model)
	require.Len(t, out.Table, 4)
	assert.Equal(t, normalize.AISheetHeaders, []string(out.Table[0]))
	assert.Equal(t, "Coffee", out.Table[1][0])
	assert.Equal(t, "0", out.Table[1][3])
	assert.Equal(t, "Hot", out.Table[2][2])
	assert.Equal(t, "Cold", out.Table[3][2])
	assert.Equal(t, telemetry.Accuracy(out.Table), out.Accuracy)

	req := gw.last(t)
	assert.Equal(t, "alice@example.com", req.User)
	assert.Contains(t, req.Prompt, "Language: English.")
	assert.Len(t, req.Parts, 1)

	logs := usage.Logs(0)
	require.Len(t, logs, 1)
	assert.Equal(t, "AI OCR to Excel (ai)", logs[0].Tool)
	assert.Equal(t, telemetry.StatusSuccess, logs[0].Status)
	assert.Equal(t, []string{"png"}, logs[0].FileFormats)
	assert.Equal(t, 100, logs[0].InputTokens)
	assert.Equal(t, 40, logs[0].OutputTokens)
	assert.Equal(t, out.Accuracy, logs[0].AccuracyScore)
}

func TestExtract_ManualModeAndOptions(t *testing.T) {
	gw := &fakeGateway{result: reply(`[["Name","Price"],["Tea","30"]]`)}
	svc, _ := newService(gw)

	out, err := svc.Extract(context.Background(), Request{
		Parts:    []providers.Part{providers.TextPart{Text: "Tea 30"}},
		Mode:     normalize.ModeManualSheet,
		Language: "Hindi",
		DeepScan: true,
	})
	require.NoError(t, err)
	assert.Equal(t, normalize.ModeManualSheet, out.Mode)
	assert.Equal(t, normalize.Headers(normalize.ModeManualSheet), []string(out.Table[0]))

	req := gw.last(t)
	assert.Contains(t, req.Prompt, "DEEP SCAN")
	assert.Contains(t, req.Prompt, "Language: Hindi.")
}

func TestExtract_UnparseableReply(t *testing.T) {
	gw := &fakeGateway{result: reply("I could not read this menu.")}
	svc, usage := newService(gw)

	out, err := svc.Extract(context.Background(), Request{
		Parts: []providers.Part{providers.NewInlinePart([]byte("img"), "image/jpeg")},
	})
	require.NoError(t, err)
	require.Len(t, out.Table, 1)
	assert.Equal(t, normalize.AISheetHeaders, []string(out.Table[0]))
	assert.Equal(t, 0, out.Accuracy)
	assert.Equal(t, telemetry.StatusSuccess, usage.Logs(0)[0].Status)
}

func TestExtract_Spreadsheet(t *testing.T) {
	data, err := sheet.WriteTable([][]string{{"Item", "Price"}, {"Tea", "30"}}, "Menu")
	require.NoError(t, err)

	gw := &fakeGateway{result: reply(menuReply)}
	svc, usage := newService(gw)

	_, err = svc.Extract(context.Background(), Request{
		Parts: []providers.Part{providers.NewInlinePart(data, sheet.ContentType)},
	})
	require.NoError(t, err)

	req := gw.last(t)
	require.Len(t, req.Parts, 1)
	text, ok := req.Parts[0].(providers.TextPart)
	require.True(t, ok, "spreadsheet should be sent as text")
	assert.True(t, strings.HasPrefix(text.Text, "SHEET: Menu\n"))
	assert.Contains(t, text.Text, `["Tea","30"]`)
	assert.Equal(t, []string{"spreadsheet"}, usage.Logs(0)[0].FileFormats)
}

func TestExtract_Errors(t *testing.T) {
	t.Run("no files", func(t *testing.T) {
		gw := &fakeGateway{result: reply(menuReply)}
		svc, usage := newService(gw)
		_, err := svc.Extract(context.Background(), Request{})
		assert.ErrorIs(t, err, gatekeeper.ErrInvalidInput)
		assert.Empty(t, gw.requests)
		assert.Equal(t, telemetry.StatusError, usage.Logs(0)[0].Status)
	})

	t.Run("unreadable spreadsheet", func(t *testing.T) {
		gw := &fakeGateway{result: reply(menuReply)}
		svc, _ := newService(gw)
		_, err := svc.Extract(context.Background(), Request{
			Parts: []providers.Part{providers.NewInlinePart([]byte("not a workbook"), sheet.ContentType)},
		})
		assert.ErrorIs(t, err, gatekeeper.ErrInvalidInput)
		assert.Empty(t, gw.requests)
	})

	t.Run("gateway failure", func(t *testing.T) {
		gw := &fakeGateway{err: &gatekeeper.Error{Kind: gatekeeper.KindTooManyRequests, Message: "Too many quick requests"}}
		svc, usage := newService(gw)
		_, err := svc.Extract(context.Background(), Request{
			Parts: []providers.Part{providers.TextPart{Text: "menu"}},
		})
		assert.ErrorIs(t, err, gatekeeper.ErrTooManyRequests)

		e := usage.Logs(0)[0]
		assert.Equal(t, telemetry.StatusError, e.Status)
		assert.Equal(t, "N/A", e.Model)
		assert.Equal(t, "Too many quick requests", e.ErrorMessage)
	})
}

func TestFix(t *testing.T) {
	gw := &fakeGateway{result: reply(`[["Name","Item_Online_DisplayName"],["Chicken Tikka","Chicken Tikka"]]`)}
	svc, usage := newService(gw)

	out, err := svc.Fix(context.Background(), "bob@example.com", [][]string{{"Name"}, {"Chiken Tikka"}})
	require.NoError(t, err)
	require.Len(t, out.Table, 2)
	for _, row := range out.Table {
		assert.Len(t, row, len(normalize.AISheetHeaders))
	}
	assert.Equal(t, "Chicken Tikka", out.Table[1][0])

	req := gw.last(t)
	assert.Empty(t, req.Parts)
	assert.Contains(t, req.Prompt, `Input Data: [["Name"],["Chiken Tikka"]]`)

	e := usage.Logs(0)[0]
	assert.Equal(t, FixTool, e.Tool)
	assert.Equal(t, []string{"xlsx"}, e.FileFormats)

	_, err = svc.Fix(context.Background(), "bob@example.com", nil)
	assert.ErrorIs(t, err, gatekeeper.ErrInvalidInput)
}

func TestTranslate(t *testing.T) {
	gw := &fakeGateway{result: reply(`[["Name"],["Poulet"]]`)}
	svc, usage := newService(gw)
	table := [][]string{{"Name"}, {"Chicken"}}

	out, err := svc.Translate(context.Background(), "", table, "French", translate.ScopeNames)
	require.NoError(t, err)
	assert.Equal(t, normalize.Table{{"Name"}, {"Poulet"}}, out.Table)
	assert.Equal(t, `Translate to French. Scope: names. Data: [["Name"],["Chicken"]]`, gw.last(t).Prompt)
	assert.Equal(t, TranslateTool, usage.Logs(0)[0].Tool)

	_, err = svc.Translate(context.Background(), "", table, "French", translate.Scope("everything"))
	assert.ErrorIs(t, err, gatekeeper.ErrInvalidInput)
	_, err = svc.Translate(context.Background(), "", table, "  ", translate.ScopeBoth)
	assert.ErrorIs(t, err, gatekeeper.ErrInvalidInput)
	assert.Len(t, gw.requests, 1)
}

func TestSummarize(t *testing.T) {
	gw := &fakeGateway{result: reply("Prices range from 30 to 120.")}
	svc, usage := newService(gw)

	img := providers.NewInlinePart([]byte("img"), "image/png")
	out, err := svc.Summarize(context.Background(), "", "menu text", []providers.Part{img})
	require.NoError(t, err)
	assert.Equal(t, "Prices range from 30 to 120.", out.Text)

	req := gw.last(t)
	assert.Equal(t, "Analyze document pricing, trends, and dish composition.", req.Prompt)
	require.Len(t, req.Parts, 2)
	assert.Equal(t, providers.TextPart{Text: "menu text"}, req.Parts[0])

	e := usage.Logs(0)[0]
	assert.Equal(t, SummarizeTool, e.Tool)
	assert.Equal(t, 2, e.FileCount)
	assert.Equal(t, []string{"mixed"}, e.FileFormats)

	t.Run("empty reply", func(t *testing.T) {
		gw.result = reply("  ")
		out, err := svc.Summarize(context.Background(), "", "menu text", nil)
		require.NoError(t, err)
		assert.Equal(t, summaryFallback, out.Text)
	})

	t.Run("nothing to summarize", func(t *testing.T) {
		_, err := svc.Summarize(context.Background(), "", " ", nil)
		assert.ErrorIs(t, err, gatekeeper.ErrInvalidInput)
	})
}

func TestPadRows(t *testing.T) {
	in := normalize.Table{{"a"}, {"a", "b", "c"}}
	out := padRows(in, 3)
	assert.Equal(t, normalize.Table{{"a", "", ""}, {"a", "b", "c"}}, out)
	assert.Equal(t, []string{"a"}, in[0])
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, "png", formatOf("image/png"))
	assert.Equal(t, "unknown", formatOf("image/"))
	assert.Equal(t, "unknown", formatOf(""))
	assert.True(t, IsSpreadsheet("application/vnd.ms-excel"))
	assert.False(t, IsSpreadsheet("application/pdf"))
}

// The service wired to a real gateway: a repeated extraction is served from
// the cache once the per-user lock has expired.
func TestExtract_ThroughGatekeeper(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	mock := providers.NewMockGenerator()
	mock.On(providers.DefaultModel, providers.MockReply{Text: menuReply})
	inv := providers.NewInvoker(providers.InvokerConfig{
		Resolver: mock,
		Sleep:    func(ctx context.Context, d time.Duration) error { return nil },
	})
	st := store.NewMemoryStore(clock)
	gk := gatekeeper.New(gatekeeper.Config{Store: st, Invoker: inv, Now: clock})

	usage := telemetry.NewLog(telemetry.Config{Now: clock})
	svc := New(Config{Gateway: gk, Prompts: newResolver(), Usage: usage, Now: clock})

	req := Request{User: "carol@example.com", Parts: []providers.Part{providers.TextPart{Text: "Coffee Hot/Cold 120"}}}
	first, err := svc.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, first.Table, 4)

	_, err = svc.Extract(context.Background(), req)
	var ge *gatekeeper.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, gatekeeper.KindTooManyRequests, ge.Kind)

	now = now.Add(5 * time.Second)
	second, err := svc.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Table, second.Table)
	assert.EqualValues(t, 1, mock.RequestCount())

	logs := usage.Logs(0)
	require.Len(t, logs, 3)
	assert.Equal(t, "cache", logs[0].Model)
}
