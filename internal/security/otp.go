package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const defaultOTPDigits = 6

// OTPGenerator produces zero-padded numeric codes uniformly drawn from
// [0, 10^digits). With the default of 6 digits the modulus is 1_000_000.
type OTPGenerator struct {
	digits  int
	modulus *big.Int
}

func NewOTPGenerator(digits int) *OTPGenerator {
	if digits <= 0 {
		digits = defaultOTPDigits
	}
	modulus := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	return &OTPGenerator{digits: digits, modulus: modulus}
}

func (g *OTPGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, g.modulus)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", g.digits, n.Int64()), nil
}

// Modulus returns the size of the code space.
func (g *OTPGenerator) Modulus() int64 {
	return g.modulus.Int64()
}
