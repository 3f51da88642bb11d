package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldDiff(t *testing.T) {
	diff := fieldDiff("a, b", []any{"a", "b"})
	require.Equal(t, "-\"a, b\"\n+[\n+  \"a\",\n+  \"b\"\n+]\n", diff)

	diff = fieldDiff(nil, []any{})
	require.Equal(t, "-<absent>\n+[]\n", diff)

	diff = fieldDiff([]any{"x"}, []any{"x", "y"})
	require.Contains(t, diff, " [\n")
	require.Contains(t, diff, "-  \"x\"\n")
	require.Contains(t, diff, "+  \"x\",\n+  \"y\"\n")
	require.Contains(t, diff, " ]\n")
}
