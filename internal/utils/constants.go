package utils

import "regexp"

const (
	OrganizationName = "Driftlock"

	CORSLowSecurityAllowedOriginLocalhost = "http://localhost:*"

	TestEmailSuffix       = "testing@driftlock.dev"
	TestEmailRegexPattern = `^[0-9a-z.+-]+` + TestEmailSuffix + `$`
)

// Pre-compile the test email regex.
var TestEmailRegex = regexp.MustCompile(TestEmailRegexPattern)
