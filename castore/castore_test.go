package castore

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLookupExpiry(t *testing.T) {
	s := New([]CaPublicKey{
		{RID: "A000000003", Index: 0x01, Modulus: []byte{1, 2, 3}, Exponent: 3, Expiry: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)},
	})

	_, err := s.Lookup("A000000003", 0x01, time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)

	_, err = s.Lookup("A000000003", 0x01, time.Date(2025, 2, 1, 0, 0, 1, 0, time.UTC))
	require.ErrorIs(t, err, ErrKeyExpired)

	_, err = s.Lookup("A000000003", 0x02, time.Now())
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStoreAddKeyNeverDestroyed(t *testing.T) {
	s := New(nil)
	require.False(t, s.HasKey("A000000004", 0x05))
	s.AddKey(CaPublicKey{RID: "A000000004", Index: 0x05, Expiry: time.Now().AddDate(1, 0, 0)})
	require.True(t, s.HasKey("A000000004", 0x05))
	assert.Len(t, s.KeysForRID("A000000004"), 1)
}

func TestParseCRLRoundTrip(t *testing.T) {
	input := "A000000003:01:KEY_COMPROMISE:20240115\n# comment\n\nA000000004:02:SUPERSEDED:20230601\n"
	entries, err := ParseCRL(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "A000000003", entries[0].rid)
	assert.Equal(t, byte(0x01), entries[0].index)
	assert.Equal(t, "KEY_COMPROMISE", entries[0].rev.Reason)
}

func TestParseCRLMalformed(t *testing.T) {
	_, err := ParseCRL(strings.NewReader("not-enough-fields\n"))
	require.Error(t, err)
}

func TestRevocationCheckerAddAndCheck(t *testing.T) {
	c, err := NewRevocationChecker(RevocationConfig{}, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusValid, c.CheckCAKeyRevocation("A000000003", 0x01, false))

	c.AddRevokedCAKey("A000000003", 0x01, "KEY_COMPROMISE", time.Time{})
	assert.Equal(t, StatusRevoked, c.CheckCAKeyRevocation("A000000003", 0x01, false))

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Checks)
	assert.Equal(t, uint64(1), stats.Revoked)
}
