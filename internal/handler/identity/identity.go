// Package identity resolves which user a request belongs to.
package identity

import (
	"net/http"
	"strings"
)

// Header carries the caller's stable user id. Without it the request runs
// in a shared anonymous session whose conversation is never persisted.
const Header = "X-User-ID"

// UserID extracts the user id from the request, empty for anonymous.
func UserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}
