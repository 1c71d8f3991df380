package logger

import "strings"

// SanitizedSubject masks a subject value for log lines. Usernames keep their
// first character; IPs keep their first two octets. Full values belong in the
// event store, not in shipped logs.
func SanitizedSubject(subjectType, value string) string {
	switch subjectType {
	case "ip":
		return SanitizedIP(value)
	case "username":
		return SanitizedUsername(value)
	default:
		return "[unknown-subject]"
	}
}

// SanitizedUsername masks a username (e.g., "a*****")
func SanitizedUsername(username string) string {
	if username == "" {
		return "[empty]"
	}
	if len(username) == 1 {
		return "*"
	}
	return string(username[0]) + strings.Repeat("*", len(username)-1)
}

// SanitizedIP masks the host portion of an IPv4 address (e.g., "10.0.*.*")
func SanitizedIP(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		// IPv6 or malformed: keep only the first group
		if idx := strings.Index(ip, ":"); idx > 0 {
			return ip[:idx] + ":..."
		}
		return "[invalid-ip]"
	}
	return parts[0] + "." + parts[1] + ".*.*"
}

// SanitizeQueryString reports whether a query string contains sensitive
// parameters and should be redacted wholesale from request logs.
func SanitizeQueryString(rawQuery string) bool {
	sensitiveParams := []string{
		"password",
		"token",
		"secret",
		"csrf",
		"remember",
		"auth",
	}

	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
