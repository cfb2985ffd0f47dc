package capture

import (
	"net/http"
	"strings"

	"github.com/hookline/gateway/internal/types"
)

const (
	maxHeaderKeyLen   = 256
	maxHeaderValueLen = 8192
)

var blockedResponseHeaders = map[string]struct{}{
	"set-cookie":                {},
	"strict-transport-security": {},
	"content-security-policy":   {},
	"x-frame-options":           {},
}

// WriteMockResponse renders an ephemeral endpoint's canned reply. Any
// failure to build a safe response (an invalid status, for example, is
// clamped rather than failing) falls back to a plain 200 OK.
func WriteMockResponse(w http.ResponseWriter, mock *types.MockResponse) {
	status := mock.Status
	if status < 100 || status > 599 {
		status = http.StatusOK
	}

	for key, value := range mock.Headers {
		lower := strings.ToLower(key)
		if _, blocked := blockedResponseHeaders[lower]; blocked {
			continue
		}
		if len(key) > maxHeaderKeyLen || len(value) > maxHeaderValueLen {
			continue
		}
		if containsCRLF(key) || containsCRLF(value) {
			continue
		}
		w.Header().Set(key, value)
	}

	w.WriteHeader(status)
	_, _ = w.Write([]byte(mock.Body))
}

func containsCRLF(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}
