package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		}
	}
	return nil
}

func TestScanEntry(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1_700_000_000, 42)
	e, err := scanEntry(fakeRow{values: []any{
		"0000000000000000000000000000000000000001", "/cache/a", int64(9), mtime.UnixNano(),
	}})
	require.NoError(t, err)
	assert.Equal(t, "/cache/a", e.Path)
	assert.Equal(t, int64(9), e.Size)
	assert.True(t, mtime.Equal(e.LastModified))
}
