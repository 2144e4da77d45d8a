package types

import "time"

// OTPPurpose tells the mailer which template an OTP belongs to.
type OTPPurpose string

const (
	OTPPurposeActivation    OTPPurpose = "activation"
	OTPPurposePasswordReset OTPPurpose = "password_reset"
)

// OTPIssued is published whenever a code is generated for an account.
type OTPIssued struct {
	Email    string     `json:"email"`
	Purpose  OTPPurpose `json:"purpose"`
	Code     string     `json:"code"`
	IssuedAt time.Time  `json:"issued_at"`
}
