package authz

import (
	"net/http"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
)

// Capability is an action class a caller may or may not perform.
type Capability string

const (
	CapRead               Capability = "read"
	CapEdit               Capability = "edit"
	CapManageUsers        Capability = "manage-users"
	CapManageBilling      Capability = "manage-billing"
	CapManageOrganization Capability = "manage-organization"
	CapAccessSettings     Capability = "access-settings"
)

// Allowed is the pure capability mapping. No I/O: the decision depends only
// on the effective role, where nil means account owner.
func Allowed(role *kernel.Role, cap Capability) bool {
	switch cap {
	case CapRead, CapAccessSettings:
		return true
	case CapEdit:
		return role == nil || *role != kernel.RoleViewer
	case CapManageUsers, CapManageBilling, CapManageOrganization:
		return role == nil
	default:
		return false
	}
}

// denialReasons carries the action-specific copy surfaced on a 403. A denied
// check must never read as a generic forbidden.
var denialReasons = map[Capability]string{
	CapEdit:               "Your role only allows viewing. Ask the account owner for editor access.",
	CapManageUsers:        "Only the account owner can manage team members.",
	CapManageBilling:      "Only the account owner can manage billing.",
	CapManageOrganization: "Only the account owner can change organization settings.",
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("AUTHZ")

var (
	CodeForbidden = ErrRegistry.Register("FORBIDDEN", errx.TypeForbidden, http.StatusForbidden, "You do not have permission to perform this action")
)

// Require returns nil when the role grants the capability, and a capability-
// specific forbidden error otherwise. Every mutating endpoint calls this
// before touching storage.
func Require(role *kernel.Role, cap Capability) error {
	if Allowed(role, cap) {
		return nil
	}

	msg, ok := denialReasons[cap]
	if !ok {
		return ErrRegistry.New(CodeForbidden).WithDetail("capability", string(cap))
	}
	return ErrRegistry.NewWithMessage(CodeForbidden, msg).WithDetail("capability", string(cap))
}
