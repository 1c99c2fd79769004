// Package identity reads the caller identity forwarded by the upstream auth
// layer in X-User-* headers.
package identity

import (
	"encoding/json"
	"net/http"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
	HeaderUserPhone = "X-User-Phone"
	HeaderUserRole  = "X-User-Role"

	RoleAdmin = "admin"
)

// Headers lists every identity header, in forwarding order.
var Headers = []string{HeaderUserID, HeaderUserEmail, HeaderUserName, HeaderUserPhone, HeaderUserRole}

type User struct {
	domain.Customer
	Role string
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// FromRequest returns the caller, or false when no user id was forwarded.
func FromRequest(r *http.Request) (User, bool) {
	id := r.Header.Get(HeaderUserID)
	if id == "" {
		return User{}, false
	}
	return User{
		Customer: domain.Customer{
			ID:    id,
			Email: r.Header.Get(HeaderUserEmail),
			Name:  r.Header.Get(HeaderUserName),
			Phone: r.Header.Get(HeaderUserPhone),
		},
		Role: r.Header.Get(HeaderUserRole),
	}, true
}

// RequireUser rejects requests without a forwarded user with 401.
func RequireUser(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromRequest(r); !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		h(w, r)
	}
}

// RequireAdmin rejects non-admin callers with 401 or 403.
func RequireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := FromRequest(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if !user.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		h(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
}
