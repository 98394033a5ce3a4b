package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2024-07-20T20:00:00Z",
		"2024-07-20T20:00:00+02:00",
		"2024-07-20T20:00",
		"2024-07-20 20:00",
		"2024-07-20",
	} {
		_, ok := ParseTimestamp(s)
		assert.True(t, ok, s)
	}
	_, ok := ParseTimestamp("")
	assert.False(t, ok)

	naive, ok := ParseTimestamp("2024-07-20T20:00")
	require.True(t, ok)
	assert.Equal(t, time.UTC, naive.Location())
}
