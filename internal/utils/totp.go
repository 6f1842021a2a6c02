package utils

import (
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret creates a fresh enrollment key. The returned key
// exposes both the base32 secret and the otpauth:// provisioning URL.
func GenerateTOTPSecret(appName string, accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      appName,
		AccountName: accountName,
	})
}

func ValidateTOTPCode(secret, code string) bool {
	return totp.Validate(code, secret)
}
