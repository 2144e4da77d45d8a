package security

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"time"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

// NewTestTokenCodec returns a codec backed by a process-wide generated key
// (15m access, 24h refresh). For tests only.
func NewTestTokenCodec() (*TokenCodec, error) {
	testKeyOnce.Do(func() {
		testKey, testKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if testKeyErr != nil {
		return nil, testKeyErr
	}
	return NewTokenCodec(testKey, &testKey.PublicKey, 15*time.Minute, 24*time.Hour, "Bearer"), nil
}
