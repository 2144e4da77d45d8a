package types

import "time"

// User represents an account in the system.
// It carries identity, credentials, and the state of the activation challenge.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// FirstName and LastName are the user's names (3 to 20 characters).
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`

	// Email is the user's unique, lower-cased email address.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the one-way hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// OTPCode is the outstanding activation code. It is nil once the account
	// is active.
	OTPCode *string `json:"-" db:"otp_code"`

	// ResetCode is the outstanding password-reset code, if any.
	ResetCode *string `json:"-" db:"reset_code"`

	// IsActive is false until the activation code is confirmed.
	IsActive bool `json:"is_active" db:"is_active"`

	// AttemptsCount is the number of remaining OTP attempts (0 to 3).
	AttemptsCount int `json:"-" db:"attempts_count"`

	// LastLogin is the timestamp of the most recent successful login.
	LastLogin *time.Time `json:"last_login" db:"last_login"`

	// Photo is the object storage key of the profile photo.
	Photo *string `json:"photo" db:"photo"`

	// Features are the user's related feature records, in creation order.
	Features []Feature `json:"features" db:"-"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Feature is a titled set of free-text values attached to a user.
type Feature struct {
	ID     int      `json:"id" db:"id"`
	Title  string   `json:"title" db:"title"`
	Values []string `json:"values" db:"-"`
}

// ProfilePatch lists the user fields a client may change. Nil means unchanged.
type ProfilePatch struct {
	FirstName *string        `json:"first_name,omitempty"`
	LastName  *string        `json:"last_name,omitempty"`
	Features  []FeaturePatch `json:"features,omitempty"`
}

// FeaturePatch updates the feature with ID, or creates a new one when ID is nil.
type FeaturePatch struct {
	ID     *int     `json:"id,omitempty"`
	Title  string   `json:"title"`
	Values []string `json:"values"`
}
