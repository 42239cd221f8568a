package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bvandewe/agent-gateway/internal/catalog"
)

func TestGroupResolveSelectorsIncludesExcludes(t *testing.T) {
	g := &catalog.Group{
		Selectors: []catalog.Selector{
			{Kind: catalog.SelectorWildcard, Field: catalog.SelectorFieldName, Pattern: "weather_*"},
		},
		Includes: []string{"src1:list_users"},
		Excludes: []string{"src1:weather_internal"},
	}
	candidates := []catalog.ToolFacts{
		{ID: "src1:weather_current", Name: "weather_current", Enabled: true, Active: true},
		{ID: "src1:weather_internal", Name: "weather_internal", Enabled: true, Active: true},
		{ID: "src1:list_users", Name: "list_users", Enabled: true, Active: true},
		{ID: "src1:disabled_weather_tool", Name: "weather_disabled", Enabled: false, Active: true},
	}

	ids := g.Resolve(candidates)
	require.Contains(t, ids, "src1:weather_current")
	require.Contains(t, ids, "src1:list_users")
	require.NotContains(t, ids, "src1:weather_internal", "explicit exclude must win over selector match")
	require.NotContains(t, ids, "src1:disabled_weather_tool", "disabled tools are never selector-matched")
}

func TestGroupResolveRegexSelector(t *testing.T) {
	g := &catalog.Group{
		Selectors: []catalog.Selector{
			{Kind: catalog.SelectorRegex, Field: catalog.SelectorFieldTags, Pattern: "^admin-.*"},
		},
	}
	candidates := []catalog.ToolFacts{
		{ID: "t1", Tags: []string{"admin-users"}, Enabled: true, Active: true},
		{ID: "t2", Tags: []string{"public"}, Enabled: true, Active: true},
	}
	ids := g.Resolve(candidates)
	require.Equal(t, []string{"t1"}, ids)
}

func TestGroupResolveExcludesInactiveTool(t *testing.T) {
	g := &catalog.Group{
		Selectors: []catalog.Selector{{Kind: catalog.SelectorWildcard, Field: catalog.SelectorFieldName, Pattern: "*"}},
	}
	candidates := []catalog.ToolFacts{
		{ID: "t1", Name: "a", Enabled: true, Active: false},
	}
	require.Empty(t, g.Resolve(candidates))
}
