package gatewaytest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowsIterateScanAndValues(t *testing.T) {
	conn := &Conn{QueryFn: func(string, []any) ([][]any, error) {
		return [][]any{{"a", int64(1)}, {"b", int64(2)}}, nil
	}}
	rows, err := conn.Query(context.Background(), "SELECT name, n FROM t")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		values, err := rows.Values()
		require.NoError(t, err)
		assert.Len(t, values, 2)

		var name string
		var n int
		require.NoError(t, rows.Scan(&name, &n))
		names = append(names, name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, []string{"SELECT name, n FROM t"}, conn.Statements())

	_, err = NewRows().Values()
	assert.Error(t, err)
}
