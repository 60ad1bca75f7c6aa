package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	require.Equal(t, 7, NormalizeLimit(7))
	require.Equal(t, 8, LimitWithBuffer(7))
}

func TestCursorRoundTrip(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 10, 18, 9, 30, 0, 123, time.UTC), ID: uuid.New()}
	token := EncodeCursor(in)
	require.NotContains(t, token, "=")

	out, err := ParseCursor(token)
	require.NoError(t, err)
	require.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.Equal(t, in.ID, out.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	out, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, out)

	for _, token := range []string{"not-a-cursor!", encodeRaw("no-separator"), encodeRaw("yesterday|" + uuid.NewString())} {
		_, err := ParseCursor(token)
		require.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}

func encodeRaw(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func TestTrimReturnsNextCursor(t *testing.T) {
	base := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	rows := make([]Cursor, 4)
	for i := range rows {
		rows[i] = Cursor{CreatedAt: base.Add(-time.Duration(i) * time.Minute), ID: uuid.New()}
	}
	identity := func(c Cursor) Cursor { return c }

	page, next := Trim(rows, 3, identity)
	require.Len(t, page, 3)
	decoded, err := ParseCursor(next)
	require.NoError(t, err)
	require.Equal(t, rows[2].ID, decoded.ID)

	page, next = Trim(rows[:2], 3, identity)
	require.Len(t, page, 2)
	require.Empty(t, next)
}
