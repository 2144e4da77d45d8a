package types

import "time"

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Session is a stored token pair and its revocation state.
// Rows are never deleted; they form the revocation ledger.
type Session struct {
	// ID is the unique identifier of the session row.
	ID int64 `json:"id" db:"id"`

	// AccessToken and RefreshToken are the signed token strings issued together.
	AccessToken  string `json:"-" db:"access_token"`
	RefreshToken string `json:"-" db:"refresh_token"`

	// Expired is true once the pair was rotated or logged out.
	Expired bool `json:"expired" db:"expired"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TokenPair is the response of login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}
