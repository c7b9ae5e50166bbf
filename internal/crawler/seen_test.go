package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentifierSetHydratesAndGrows(t *testing.T) {
	set := NewIdentifierSet(identifiers("1", "2", "2")...)
	require.Equal(t, 2, set.Len())
	require.True(t, set.Contains("1"))
	require.False(t, set.Contains("3"))

	require.True(t, set.Add("3"))
	require.False(t, set.Add("3"))
	require.False(t, set.Add(""), "empty identifiers are never recorded")
	require.Equal(t, 3, set.Len())
}

func TestIdentifierSetFilterKeepsOrder(t *testing.T) {
	set := NewIdentifierSet("2")
	fresh := set.Filter(identifiers("5", "2", "1", "5", "4"))

	require.Equal(t, identifiers("5", "1", "4"), fresh)
	require.True(t, set.Contains("4"))
	require.Empty(t, set.Filter(identifiers("1", "4")))
}
