package domain

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomID(t *testing.T) {
	id, err := ParseRoomID("r1")
	require.NoError(t, err)
	assert.Equal(t, RoomID("r1"), id)

	_, err = ParseRoomID("")
	assert.ErrorIs(t, err, ErrEmptyRoomID)

	_, err = ParseRoomID(strings.Repeat("x", MaxRoomIDLen+1))
	assert.ErrorIs(t, err, ErrRoomIDTooLong)

	_, err = ParseRoomID(strings.Repeat("x", MaxRoomIDLen))
	assert.NoError(t, err)
}

func TestParseUserID(t *testing.T) {
	_, err := ParseUserID("")
	assert.ErrorIs(t, err, ErrEmptyUserID)

	_, err = ParseUserID(strings.Repeat("u", MaxUserIDLen+1))
	assert.ErrorIs(t, err, ErrUserIDTooLong)

	id, err := ParseUserID("alice")
	require.NoError(t, err)
	assert.Equal(t, UserID("alice"), id)
}

func TestIdentityNormalize(t *testing.T) {
	got := Identity{
		ID:   UserID(strings.Repeat("u", MaxUserIDLen+1)),
		Name: strings.Repeat("n", MaxUsernameLen+10),
	}.Normalize()
	assert.Empty(t, got.ID)
	assert.Len(t, got.Name, MaxUsernameLen)

	ok := Identity{ID: "alice", Name: "Alice"}
	assert.Equal(t, ok, ok.Normalize())
}

func TestIdentityNormalizeKeepsRunesWhole(t *testing.T) {
	name := strings.Repeat("é€", 30)
	got := Identity{Name: name}.Normalize()

	assert.True(t, utf8.ValidString(got.Name))
	assert.LessOrEqual(t, len(got.Name), MaxUsernameLen)
	assert.True(t, strings.HasPrefix(name, got.Name))
	// 12 pairs of 5 bytes, then one 2-byte rune; the next 3-byte rune does not fit.
	assert.Len(t, got.Name, 62)
}
