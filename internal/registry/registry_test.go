package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
	"github.com/GrabowMar/ThesisAppRework-sub000/internal/registry"
)

func TestLookup_KnownTool(t *testing.T) {
	t.Parallel()

	tool, ok := registry.Lookup("bandit")

	require.True(t, ok)
	assert.Equal(t, analyzer.ServiceStatic, tool.Service)
	assert.Equal(t, registry.CategorySecurity, tool.Category)
}

func TestGroupByService_ExplicitTools(t *testing.T) {
	t.Parallel()

	grouped := registry.GroupByService("unified", []string{"bandit", "eslint", "locust"})

	assert.Equal(t, map[analyzer.Service][]string{
		analyzer.ServiceStatic:      {"bandit", "eslint"},
		analyzer.ServicePerformance: {"locust"},
	}, grouped)
}

func TestGroupByService_EmptyMeansDefaults(t *testing.T) {
	t.Parallel()

	grouped := registry.GroupByService("static", nil)

	require.Contains(t, grouped, analyzer.ServiceStatic)
	assert.Contains(t, grouped[analyzer.ServiceStatic], "bandit")
	assert.Contains(t, grouped[analyzer.ServiceStatic], "ruff")
	assert.NotContains(t, grouped, analyzer.ServiceDynamic)
}

func TestGroupByService_TypeScopesServices(t *testing.T) {
	t.Parallel()

	// A static task must ignore tools belonging to other services.
	grouped := registry.GroupByService("static", []string{"bandit", "zap", "locust"})

	assert.Equal(t, map[analyzer.Service][]string{
		analyzer.ServiceStatic: {"bandit"},
	}, grouped)
}

func TestGroupByService_UnknownToolsDropped(t *testing.T) {
	t.Parallel()

	grouped := registry.GroupByService("unified", []string{"bandit", "no-such-tool"})

	assert.Equal(t, map[analyzer.Service][]string{
		analyzer.ServiceStatic: {"bandit"},
	}, grouped)
}

func TestDefaultTools_SortedAndScoped(t *testing.T) {
	t.Parallel()

	tools := registry.DefaultTools(analyzer.ServicePerformance)

	assert.Equal(t, []string{"ab", "locust"}, tools)
}

func TestCategory_FallsBackToMisc(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "misc", registry.Category("mystery-tool"))
	assert.Equal(t, registry.CategoryLoad, registry.Category("locust"))
}
