package auth

import (
	"net/http"
	"strings"
)

// ExtractCredential returns the bearer credential presented with a request.
// The "token" query parameter wins over the Authorization header, since
// browsers cannot set headers on a WebSocket handshake.
func ExtractCredential(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	h := r.Header.Get("Authorization")
	if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return ""
}
