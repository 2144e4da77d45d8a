package security

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/authsvc/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid is returned when a token is malformed, badly signed or carries unknown claims.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned when the exp claim has passed.
	ErrTokenExpired = errors.New("token is expired")
	// ErrInvalidSubject is returned when a sub claim is not of the form UI_<id>_<epoch>.
	ErrInvalidSubject = errors.New("invalid token subject")
)

const (
	subjectPrefix     = "UI"
	subjectPartsCount = 3
	signingAlgorithm  = "RS256"
)

// Claims is the signed token payload.
type Claims struct {
	TokenType types.TokenKind `json:"token_type"`
	jwt.RegisteredClaims
}

// Payload is a verified token.
type Payload struct {
	Subject   string
	UserID    int
	Kind      types.TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec signs and verifies access and refresh tokens with RS256.
type TokenCodec struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	typeLabel  string
	now        func() time.Time
}

// NewTokenCodec returns a codec that signs with privateKey and verifies with publicKey.
func NewTokenCodec(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, accessTTL, refreshTTL time.Duration, typeLabel string) *TokenCodec {
	if typeLabel == "" {
		typeLabel = "Bearer"
	}
	return &TokenCodec{
		privateKey: privateKey,
		publicKey:  publicKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		typeLabel:  typeLabel,
		now:        time.Now,
	}
}

// WithClock replaces the wall clock used for iat, exp and expiry checks.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	c.now = now
	return c
}

// Encode signs {sub, token_type, iat, exp, jti}.
func (c *TokenCodec) Encode(subject string, kind types.TokenKind, ttl time.Duration) (string, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	now := c.now()
	claims := Claims{
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(c.privateKey)
}

// Decode verifies the signature and expiry of tokenString and returns its payload.
func (c *TokenCodec) Decode(tokenString string) (Payload, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingAlgorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Payload{}, ErrTokenExpired
		}
		return Payload{}, ErrTokenInvalid
	}
	if !token.Valid {
		return Payload{}, ErrTokenInvalid
	}

	// The parser already checked exp; check again against our own clock.
	if claims.ExpiresAt == nil || !c.now().Before(claims.ExpiresAt.Time) {
		return Payload{}, ErrTokenExpired
	}
	if claims.TokenType != types.TokenKindAccess && claims.TokenType != types.TokenKindRefresh {
		return Payload{}, ErrTokenInvalid
	}
	userID, err := DecodeSubject(claims.Subject)
	if err != nil {
		return Payload{}, ErrTokenInvalid
	}

	payload := Payload{
		Subject:   claims.Subject,
		UserID:    userID,
		Kind:      claims.TokenType,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	return payload, nil
}

// IssuePair signs an access and a refresh token for userID.
func (c *TokenCodec) IssuePair(userID int) (types.TokenPair, error) {
	subject := EncodeSubject(userID, c.now())
	access, err := c.Encode(subject, types.TokenKindAccess, c.accessTTL)
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := c.Encode(subject, types.TokenKindRefresh, c.refreshTTL)
	if err != nil {
		return types.TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return types.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    c.typeLabel,
	}, nil
}

// EncodeSubject hides the raw user id behind UI_<id>_<issue-epoch-seconds>.
func EncodeSubject(userID int, issuedAt time.Time) string {
	return fmt.Sprintf("%s_%d_%d", subjectPrefix, userID, issuedAt.Unix())
}

// DecodeSubject extracts the user id from a subject built by EncodeSubject.
func DecodeSubject(subject string) (int, error) {
	parts := strings.Split(subject, "_")
	if len(parts) != subjectPartsCount || parts[0] != subjectPrefix {
		return 0, ErrInvalidSubject
	}
	userID, err := strconv.Atoi(parts[1])
	if err != nil || userID < 1 {
		return 0, ErrInvalidSubject
	}
	if _, err := strconv.ParseInt(parts[2], 10, 64); err != nil {
		return 0, ErrInvalidSubject
	}
	return userID, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
