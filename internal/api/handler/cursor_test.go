package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genstudio/genstudio-be/internal/jobstore"
)

func TestJobCursorRoundTrip(t *testing.T) {
	orig := &jobstore.Cursor{
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793, time.UTC),
		JobID:     "7b1e9a69-2f3c-4f36-9d1a-0a9b8f6c5d4e",
	}

	encoded := EncodeJobCursor(orig)
	decoded, err := DecodeJobCursor(encoded)
	require.NoError(t, err)

	assert.True(t, orig.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, orig.JobID, decoded.JobID)
}

func TestDecodeJobCursorEmpty(t *testing.T) {
	cursor, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeJobCursorInvalid(t *testing.T) {
	cases := []struct {
		name   string
		cursor string
	}{
		{"not base64", "%%%"},
		{"missing separator", base64.StdEncoding.EncodeToString([]byte("12345"))},
		{"bad timestamp", base64.StdEncoding.EncodeToString([]byte("abc|job-1"))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tc.cursor)
			assert.Error(t, err)
		})
	}
}
