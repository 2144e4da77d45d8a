package security

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/authsvc/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCodec(t *testing.T) *TokenCodec {
	t.Helper()
	c, err := NewTestTokenCodec()
	require.NoError(t, err)
	return c
}

func TestTokenCodec_IssuePair(t *testing.T) {
	c := newCodec(t)

	pair, err := c.IssuePair(42)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	access, err := c.Decode(pair.AccessToken)
	require.NoError(t, err)
	refresh, err := c.Decode(pair.RefreshToken)
	require.NoError(t, err)

	assert.Equal(t, types.TokenKindAccess, access.Kind)
	assert.Equal(t, types.TokenKindRefresh, refresh.Kind)
	assert.Equal(t, access.Subject, refresh.Subject)
	assert.Equal(t, 42, access.UserID)
	assert.Equal(t, 42, refresh.UserID)
	assert.True(t, refresh.ExpiresAt.After(access.ExpiresAt))
}

func TestTokenCodec_PairsIssuedTogetherDiffer(t *testing.T) {
	fixed := time.Now()
	c := newCodec(t).WithClock(func() time.Time { return fixed })

	first, err := c.IssuePair(7)
	require.NoError(t, err)
	second, err := c.IssuePair(7)
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
}

func TestTokenCodec_DecodeExpired(t *testing.T) {
	now := time.Now()
	c := newCodec(t).WithClock(func() time.Time { return now })

	token, err := c.Encode(EncodeSubject(1, now), types.TokenKindAccess, time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = c.Decode(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenCodec_DecodeRejectsForeignSignature(t *testing.T) {
	c := newCodec(t)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forger := NewTokenCodec(other, &other.PublicKey, time.Minute, time.Hour, "Bearer")

	token, err := forger.Encode(EncodeSubject(1, time.Now()), types.TokenKindAccess, time.Minute)
	require.NoError(t, err)

	_, err = c.Decode(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_DecodeRejectsHMAC(t *testing.T) {
	c := newCodec(t)

	claims := Claims{
		TokenType: types.TokenKindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   EncodeSubject(1, time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = c.Decode(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenCodec_DecodeRejectsMalformed(t *testing.T) {
	c := newCodec(t)

	for _, raw := range []string{"", "not.a.jwt", "abc"} {
		_, err := c.Decode(raw)
		assert.ErrorIs(t, err, ErrTokenInvalid, raw)
	}
}

func TestTokenCodec_DecodeRejectsBadClaims(t *testing.T) {
	c := newCodec(t)

	badKind, err := c.Encode(EncodeSubject(1, time.Now()), types.TokenKind("session"), time.Minute)
	require.NoError(t, err)
	_, err = c.Decode(badKind)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	badSubject, err := c.Encode("42", types.TokenKindAccess, time.Minute)
	require.NoError(t, err)
	_, err = c.Decode(badSubject)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestSubjectCodec(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	subject := EncodeSubject(15, issued)
	assert.Equal(t, "UI_15_1700000000", subject)

	id, err := DecodeSubject(subject)
	require.NoError(t, err)
	assert.Equal(t, 15, id)

	tests := []string{
		"",
		"UI_15",
		"UI_15_1700000000_extra",
		"XX_15_1700000000",
		"UI_abc_1700000000",
		"UI_0_1700000000",
		"UI_15_soon",
	}
	for _, raw := range tests {
		_, err := DecodeSubject(raw)
		assert.ErrorIs(t, err, ErrInvalidSubject, raw)
	}
}
