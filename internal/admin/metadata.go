package admin

import (
	"net/http"
	"strings"

	"github.com/venturedeck/venturedeck/internal/shared"
)

// RequestMetadata is best-effort caller information used for audit entries and
// rate-limit keys. It never decides authorization on its own.
type RequestMetadata struct {
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// ExtractMetadata resolves the client IP from X-Forwarded-For (first entry),
// X-Real-IP, then CF-Connecting-IP, and captures the user agent. Both values
// are cleaned to valid UTF-8 so they can be stored as audit text.
func ExtractMetadata(headers http.Header) RequestMetadata {
	ip := ""
	if forwarded := headers.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		ip = strings.TrimSpace(first)
	}
	if ip == "" {
		ip = strings.TrimSpace(headers.Get("X-Real-IP"))
	}
	if ip == "" {
		ip = strings.TrimSpace(headers.Get("CF-Connecting-IP"))
	}
	return RequestMetadata{
		IPAddress: shared.TruncateIP(ip),
		UserAgent: shared.CleanText(headers.Get("User-Agent")),
	}
}
