package security

import (
	"crypto/rand"
	"encoding/base32"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Login codes are delivered out of band (SMS), so the step is longer than the
// authenticator-app default of 30 seconds.
var loginCodeOpts = totp.ValidateOpts{
	Period:    300,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// LoginCodeTTL is how long a delivered second-factor code stays usable.
const LoginCodeTTL = 5 * time.Minute

// GenerateMFASecret generates a random Base32 string (compatible with TOTP secrets).
func GenerateMFASecret() (string, error) {
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret), nil
}

// GenerateLoginCode derives the second-factor code for secret at time t.
func GenerateLoginCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, loginCodeOpts)
}
