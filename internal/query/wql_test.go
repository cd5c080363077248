package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseWQL_SimpleSelect(t *testing.T) {
	plan, err := ParseWQL("SELECT url, price FROM ProductDetail LIMIT 10")
	require.NoError(t, err)

	rows, err := runPlan(plan, buildTestMap("shop.test"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Contains(t, rows[0], "url")
	require.Contains(t, rows[0], "price")
	require.NotContains(t, rows[0], "confidence")
}

func TestParseWQL_WhereFilter(t *testing.T) {
	plan, err := ParseWQL("SELECT * FROM ProductDetail WHERE price > 52")
	require.NoError(t, err)

	rows, err := runPlan(plan, buildTestMap("shop.test"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "shop.test/p2", rows[0]["url"])
}

func TestParseWQL_OrderByDesc(t *testing.T) {
	plan, err := ParseWQL("SELECT url FROM ProductDetail ORDER BY price DESC")
	require.NoError(t, err)

	rows, err := runPlan(plan, buildTestMap("shop.test"))
	require.NoError(t, err)
	require.Equal(t, "shop.test/p2", rows[0]["url"])
	require.Equal(t, "shop.test/p1", rows[1]["url"])
}

func TestParseWQL_FromWildcardMatchesEveryPageType(t *testing.T) {
	plan, err := ParseWQL("SELECT url FROM *")
	require.NoError(t, err)

	rows, err := runPlan(plan, buildTestMap("shop.test"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestParseWQL_RejectsUnknownField(t *testing.T) {
	_, err := ParseWQL("SELECT url FROM ProductDetail WHERE bogus_field > 1")
	require.Error(t, err)
}

func TestEngine_Run_ExecutesCompiledPlanAgainstLoadedDomain(t *testing.T) {
	e := NewEngine()
	e.Load(buildTestMap("shop.test"))

	plan, err := ParseWQL("SELECT url FROM Home")
	require.NoError(t, err)

	rows, err := e.Run(plan, "shop.test")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "shop.test/", rows[0]["url"])
}
