package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadHasAllEngineTemplates(t *testing.T) {
	lib, err := Load()
	require.NoError(t, err)

	for _, name := range []string{
		TemplateRouter,
		TemplateSQLGeneration,
		TemplateResponseSynthesis,
		TemplateConversational,
		TemplateAnalyticalPlanner,
		TemplateAnalyticalSynthesis,
		TemplateVerification,
	} {
		tmpl, err := lib.Get(name)
		require.NoError(t, err, name)
		assert.GreaterOrEqual(t, tmpl.Version, 1, name)
		assert.NotEmpty(t, tmpl.System, name)
		assert.NotEmpty(t, tmpl.User, name)
	}
}

func TestRenderBindsAllParameters(t *testing.T) {
	lib := MustLoad()

	system, user, err := lib.Render(TemplateRouter, map[string]string{
		"schema_summary": "public.rates (10 columns)",
		"memory_context": "(none)",
		"question":       "hi there",
	})
	require.NoError(t, err)
	assert.Contains(t, system, "routing stage")
	assert.Contains(t, user, "public.rates (10 columns)")
	assert.Contains(t, user, "hi there")
	assert.NotContains(t, user, "{{")
}

func TestRenderRejectsUnknownParameter(t *testing.T) {
	lib := MustLoad()

	_, _, err := lib.Render(TemplateRouter, map[string]string{
		"schema_summary": "x",
		"memory_context": "y",
		"question":       "z",
		"bogus":          "nope",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestRenderRejectsUnboundPlaceholder(t *testing.T) {
	lib := MustLoad()

	_, _, err := lib.Render(TemplateRouter, map[string]string{
		"schema_summary": "x",
		"memory_context": "y",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question")
}

func TestRenderUnknownTemplate(t *testing.T) {
	lib := MustLoad()
	_, _, err := lib.Render("no_such_template", nil)
	assert.Error(t, err)
}

func TestNamesSorted(t *testing.T) {
	lib := MustLoad()
	names := lib.Names()
	assert.Len(t, names, 7)
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestPlannerTemplateCarriesBounds(t *testing.T) {
	lib := MustLoad()
	system, user, err := lib.Render(TemplateAnalyticalPlanner, map[string]string{
		"min_questions":  "2",
		"max_questions":  "6",
		"schema_context": "TABLE",
		"memory_context": "(none)",
		"question":       "analyze rates by supplier",
	})
	require.NoError(t, err)
	assert.Contains(t, system, "2 to")
	assert.Contains(t, system, "6 focused")
	assert.Contains(t, user, "analyze rates by supplier")
}
