package prompts_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/tabula/internal/normalize"
	"github.com/jackzampolin/tabula/internal/prompts"
	"github.com/jackzampolin/tabula/internal/prompts/fixer"
	"github.com/jackzampolin/tabula/internal/prompts/ocr"
	"github.com/jackzampolin/tabula/internal/prompts/summarize"
	"github.com/jackzampolin/tabula/internal/prompts/translate"
)

func newResolver(t *testing.T) *prompts.Resolver {
	t.Helper()
	r := prompts.NewResolver(nil)
	ocr.RegisterPrompts(r)
	fixer.RegisterPrompts(r)
	translate.RegisterPrompts(r)
	summarize.RegisterPrompts(r)
	return r
}

func TestExtractVariables(t *testing.T) {
	got := prompts.ExtractVariables("{{.System}}{{if .DeepScan}}x{{end}} {{ .Language }} {{.System}}")
	assert.Equal(t, []string{"DeepScan", "Language", "System"}, got)
	assert.Empty(t, prompts.ExtractVariables("no variables"))
}

func TestHashText(t *testing.T) {
	assert.Equal(t, prompts.HashText("a"), prompts.HashText("a"))
	assert.NotEqual(t, prompts.HashText("a"), prompts.HashText("a "))
	assert.Len(t, prompts.HashText(""), 64)
}

func TestInstruction(t *testing.T) {
	r := newResolver(t)

	got, err := ocr.Instruction(r, normalize.ModeAISheet, "English", false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Act as a professional Menu Data Digitization Expert."))
	assert.Contains(t, got, `["Name","Item_Online_DisplayName","Variation_Name","Price"`)
	assert.True(t, strings.HasSuffix(got,
		"\nLanguage: English. Extract all items as a consolidated table starting with the headers provided."))
	assert.NotContains(t, got, "DEEP SCAN")

	deep, err := ocr.Instruction(r, normalize.ModeManualSheet, "Hindi", true)
	require.NoError(t, err)
	assert.Contains(t, deep, `"Variation_group_name","Variation","Variation_Price"`)
	assert.Contains(t, deep,
		"\nDEEP SCAN: Pay extra attention to handwritten or complex layouts.\nLanguage: Hindi.")
}

func TestFixerAndTranslate(t *testing.T) {
	r := newResolver(t)
	table := [][]string{{"Name"}, {"Chiken Tikka"}}

	fix, err := fixer.UserPrompt(r, table)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fix, "Act as a professional Menu Data Correction Expert."))
	assert.True(t, strings.HasSuffix(fix, "\n\nInput Data: [[\"Name\"],[\"Chiken Tikka\"]]"))

	tr, err := translate.UserPrompt(r, table, "French", translate.ScopeBoth)
	require.NoError(t, err)
	assert.Equal(t, `Translate to French. Scope: both. Data: [["Name"],["Chiken Tikka"]]`, tr)

	assert.True(t, translate.ScopeNames.Valid())
	assert.False(t, translate.Scope("all").Valid())
}

func TestSummarize(t *testing.T) {
	r := newResolver(t)
	got, err := summarize.Instruction(r)
	require.NoError(t, err)
	assert.Equal(t, "Analyze document pricing, trends, and dish composition.", got)

	long := strings.Repeat("é", summarize.MaxTextRunes+10)
	assert.Len(t, []rune(summarize.Truncate(long)), summarize.MaxTextRunes)
	assert.Equal(t, "short", summarize.Truncate("short"))
}

func TestOverrides(t *testing.T) {
	r := newResolver(t)
	before, err := r.Resolve(translate.PromptKey)
	require.NoError(t, err)
	assert.False(t, before.IsOverride)

	require.NoError(t, r.SetOverrides(map[string]string{
		translate.PromptKey: "Into {{.Language}} please: {{.Data}}",
	}))
	got, err := translate.UserPrompt(r, [][]string{{"a"}}, "German", translate.ScopeNames)
	require.NoError(t, err)
	assert.Equal(t, `Into German please: [["a"]]`, got)

	after, err := r.Resolve(translate.PromptKey)
	require.NoError(t, err)
	assert.True(t, after.IsOverride)
	assert.NotEqual(t, before.Hash, after.Hash)
	assert.Equal(t, []string{"Data", "Language"}, after.Variables)

	t.Run("unknown key leaves overrides untouched", func(t *testing.T) {
		err := r.SetOverrides(map[string]string{"nope": "x"})
		assert.Error(t, err)
		p, _ := r.Resolve(translate.PromptKey)
		assert.True(t, p.IsOverride)
	})

	t.Run("bad template", func(t *testing.T) {
		assert.Error(t, r.SetOverrides(map[string]string{translate.PromptKey: "{{.Language"}))
	})

	t.Run("clearing", func(t *testing.T) {
		require.NoError(t, r.SetOverrides(nil))
		p, _ := r.Resolve(translate.PromptKey)
		assert.False(t, p.IsOverride)
	})
}

func TestAll(t *testing.T) {
	r := newResolver(t)
	all := r.All()
	require.Len(t, all, 7)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Key, all[i].Key)
	}
	for _, p := range all {
		assert.NotEmpty(t, p.Hash, p.Key)
		assert.NotEmpty(t, p.Description, p.Key)
	}

	_, err := r.Render("missing", nil)
	assert.Error(t, err)
}
