// Package registry holds the static tool catalog: which analyzer service
// runs each tool and the category used when naming extracted artifacts.
//
// The catalog is deliberately a reviewable table, not configuration;
// adding a tool means adding a row here and deploying the matching worker.
package registry

import (
	"sort"

	"github.com/GrabowMar/ThesisAppRework-sub000/internal/analyzer"
)

// Tool describes one catalog entry.
type Tool struct {
	Name     string
	Service  analyzer.Service
	Category string
}

// Tool categories, used in artifact file names.
const (
	CategorySecurity    = "security"
	CategoryLint        = "lint"
	CategoryTypes       = "types"
	CategoryWeb         = "web"
	CategoryLoad        = "load"
	CategoryReview      = "review"
	CategoryRequirement = "requirements"
)

// catalog is the authoritative tool table.
var catalog = []Tool{
	{Name: "bandit", Service: analyzer.ServiceStatic, Category: CategorySecurity},
	{Name: "safety", Service: analyzer.ServiceStatic, Category: CategorySecurity},
	{Name: "semgrep", Service: analyzer.ServiceStatic, Category: CategorySecurity},
	{Name: "ruff", Service: analyzer.ServiceStatic, Category: CategoryLint},
	{Name: "pylint", Service: analyzer.ServiceStatic, Category: CategoryLint},
	{Name: "eslint", Service: analyzer.ServiceStatic, Category: CategoryLint},
	{Name: "stylelint", Service: analyzer.ServiceStatic, Category: CategoryLint},
	{Name: "vulture", Service: analyzer.ServiceStatic, Category: CategoryLint},
	{Name: "mypy", Service: analyzer.ServiceStatic, Category: CategoryTypes},
	{Name: "zap", Service: analyzer.ServiceDynamic, Category: CategoryWeb},
	{Name: "nikto", Service: analyzer.ServiceDynamic, Category: CategoryWeb},
	{Name: "nuclei", Service: analyzer.ServiceDynamic, Category: CategoryWeb},
	{Name: "curl", Service: analyzer.ServiceDynamic, Category: CategoryWeb},
	{Name: "locust", Service: analyzer.ServicePerformance, Category: CategoryLoad},
	{Name: "ab", Service: analyzer.ServicePerformance, Category: CategoryLoad},
	{Name: "ai_review", Service: analyzer.ServiceAI, Category: CategoryReview},
	{Name: "requirements_check", Service: analyzer.ServiceAI, Category: CategoryRequirement},
}

// byName indexes the catalog for lookups.
var byName = func() map[string]Tool {
	index := make(map[string]Tool, len(catalog))
	for _, tool := range catalog {
		index[tool.Name] = tool
	}

	return index
}()

// Lookup returns the catalog entry for a tool name.
func Lookup(name string) (Tool, bool) {
	tool, ok := byName[name]

	return tool, ok
}

// Category returns the artifact category for a tool, or "misc" for tools
// the catalog does not know (workers may report extras).
func Category(name string) string {
	tool, ok := byName[name]
	if !ok {
		return "misc"
	}

	return tool.Category
}

// DefaultTools returns all catalog tools for one service, sorted by name.
func DefaultTools(service analyzer.Service) []string {
	var names []string

	for _, tool := range catalog {
		if tool.Service == service {
			names = append(names, tool.Name)
		}
	}

	sort.Strings(names)

	return names
}

// GroupByService derives the per-service tool sets for a task.
//
// An empty requested set means "all default tools" for every service the
// analysis type covers. Unknown tool names are dropped silently: the
// submitter contract is validated upstream, and a stale tool name must
// not fail the whole task. Services with no tools are absent from the
// result; the aggregator records them as skipped.
func GroupByService(analysisType string, requested []string) map[analyzer.Service][]string {
	covered := servicesFor(analysisType)
	grouped := make(map[analyzer.Service][]string)

	if len(requested) == 0 {
		for _, service := range covered {
			if tools := DefaultTools(service); len(tools) > 0 {
				grouped[service] = tools
			}
		}

		return grouped
	}

	coveredSet := make(map[analyzer.Service]bool, len(covered))
	for _, service := range covered {
		coveredSet[service] = true
	}

	for _, name := range requested {
		tool, ok := byName[name]
		if !ok || !coveredSet[tool.Service] {
			continue
		}

		grouped[tool.Service] = append(grouped[tool.Service], name)
	}

	for service := range grouped {
		sort.Strings(grouped[service])
	}

	return grouped
}

// ServicesFor maps an analysis type to the services it may touch, in the
// fixed service order. Unknown types map to none.
func ServicesFor(analysisType string) []analyzer.Service {
	return servicesFor(analysisType)
}

func servicesFor(analysisType string) []analyzer.Service {
	if analysisType == "unified" {
		return analyzer.Services()
	}

	service := analyzer.Service(analysisType)
	if service.Valid() {
		return []analyzer.Service{service}
	}

	return nil
}
