package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTag_RoundTrip(t *testing.T) {
	runAt := time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		term     string
		wantTerm string
	}{
		{"salsa", "salsa"},
		{"west coast swing", "west coast swing"},
		{"west_coast_swing", "west coast swing"},
		{"  brazilian   zouk ", "brazilian zouk"},
		{"salsa_run:1", "salsa run:1"},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			tag := EncodeTag(2643743, tt.term, runAt)
			tc, err := DecodeTag(tag)
			require.NoError(t, err)
			assert.Equal(t, int64(2643743), tc.MetroID)
			assert.Equal(t, tt.wantTerm, tc.Term)
			assert.True(t, runAt.Equal(tc.RunAt))
		})
	}
}

func TestTag_Format(t *testing.T) {
	tag := EncodeTag(42, "tango", time.Unix(1700000000, 0))
	assert.Equal(t, "region:42_term:tango_run:1700000000", tag)
}

func TestDecodeTag_Malformed(t *testing.T) {
	for _, tag := range []string{
		"",
		"city_42_term_tango_run_1",
		"region:abc_term:tango_run:1",
		"region:42_term:_run:1",
		"region:42_term:tango",
		"region:42_term:tango_run:soon",
		"region:0_term:tango_run:1",
	} {
		_, err := DecodeTag(tag)
		assert.Error(t, err, tag)
	}
}
