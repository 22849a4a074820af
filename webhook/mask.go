package webhook

import "net/url"

const (
	maskToken        = "***"
	maskedPathLength = 32
)

// MaskURL keeps the scheme, host and the start of the path of a webhook URL.
// Credentials, query strings and fragments never survive.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return maskToken
	}

	path := u.EscapedPath()
	if len(path) > maskedPathLength {
		path = path[:maskedPathLength]
	}
	return u.Scheme + "://" + u.Host + path + maskToken
}
