package email

import "strings"

// RedactAddress masks a recipient for logs: "jane.doe@example.com" becomes
// "j***@example.com". Input without an "@" is masked entirely.
func RedactAddress(addr string) string {
	if addr == "" {
		return ""
	}
	local, domain, ok := strings.Cut(addr, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}
