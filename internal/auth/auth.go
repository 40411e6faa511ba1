// Package auth holds the capability checks shared by the HTTP boundary and
// the event handlers. Identity itself comes from the upstream identity
// provider; here a principal is just an opaque user id plus roles.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

// RoleSeller grants order management across owners.
const RoleSeller = "seller"

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRoles = "X-User-Roles"
)

var (
	// ErrUnauthenticated is returned when no principal is attached to a request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnauthorized is returned when a principal may not perform an action.
	ErrUnauthorized = errors.New("unauthorized")
)

// Principal is the caller an action is attributed to.
type Principal struct {
	UserID string
	Roles  []string
}

func (p Principal) Authenticated() bool {
	return strings.TrimSpace(p.UserID) != ""
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanManageOrders allows sellers to change order status on behalf of owners.
func CanManageOrders(p Principal) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	if !p.HasRole(RoleSeller) {
		return ErrUnauthorized
	}
	return nil
}

// CanMutateOrder checks a declared requester against the order owner. An
// empty requester means the mutation carries no ownership claim.
func CanMutateOrder(requesterID, ownerID string) error {
	if requesterID == "" {
		return nil
	}
	if requesterID != ownerID {
		return ErrUnauthorized
	}
	return nil
}

// CanViewOrder allows owners to read their own orders and sellers to read any.
func CanViewOrder(p Principal, ownerID string) error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	if p.HasRole(RoleSeller) || p.UserID == ownerID {
		return nil
	}
	return ErrUnauthorized
}

// FromRequest reads the principal forwarded by the identity gateway.
func FromRequest(r *http.Request) (Principal, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return Principal{}, ErrUnauthenticated
	}

	var roles []string
	for _, role := range strings.Split(r.Header.Get(HeaderUserRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}

	return Principal{UserID: userID, Roles: roles}, nil
}
