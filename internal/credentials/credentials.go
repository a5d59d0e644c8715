// Package credentials resolves the SES access key, secret key, session token
// and region from the configured source.
package credentials

import (
	"fmt"
	"strings"
	"unicode"
)

// Credentials are the values needed to sign one SES request.
// Region is empty when the configured region is not an SES region.
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
}

// HasKeys reports whether both the access and secret keys are set.
func (c Credentials) HasKeys() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// Host returns the SES endpoint host, or "" when the region is unusable.
func (c Credentials) Host() string {
	if c.Region == "" {
		return ""
	}
	return fmt.Sprintf("email.%s.amazonaws.com", c.Region)
}

// Endpoint returns the SES Query API base URL, or "" when the region is unusable.
func (c Credentials) Endpoint() string {
	h := c.Host()
	if h == "" {
		return ""
	}
	return "https://" + h
}

// String hides secrets so credentials can be logged with %v safely.
func (c Credentials) String() string {
	return fmt.Sprintf("credentials{access_key=%s region=%s session_token=%t}",
		mask(c.AccessKey), c.Region, c.SessionToken != "")
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}

// normalize strips any whitespace pasted into the values and clears an
// unknown region.
func normalize(c Credentials) Credentials {
	c.AccessKey = stripSpace(c.AccessKey)
	c.SecretKey = stripSpace(c.SecretKey)
	c.SessionToken = stripSpace(c.SessionToken)
	c.Region = stripSpace(c.Region)
	if !ValidRegion(c.Region) {
		c.Region = ""
	}
	return c
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
