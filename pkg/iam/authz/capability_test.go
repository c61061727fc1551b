package authz_test

import (
	"testing"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/authz"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/ptrx"
)

func TestAllowed(t *testing.T) {
	owner := (*kernel.Role)(nil)
	editor := ptrx.Ptr(kernel.RoleEditor)
	viewer := ptrx.Ptr(kernel.RoleViewer)

	tests := []struct {
		name string
		role *kernel.Role
		cap  authz.Capability
		want bool
	}{
		{"owner reads", owner, authz.CapRead, true},
		{"owner edits", owner, authz.CapEdit, true},
		{"owner manages users", owner, authz.CapManageUsers, true},
		{"owner manages billing", owner, authz.CapManageBilling, true},
		{"owner manages organization", owner, authz.CapManageOrganization, true},
		{"owner accesses settings", owner, authz.CapAccessSettings, true},

		{"editor reads", editor, authz.CapRead, true},
		{"editor edits", editor, authz.CapEdit, true},
		{"editor accesses settings", editor, authz.CapAccessSettings, true},
		{"editor cannot manage users", editor, authz.CapManageUsers, false},
		{"editor cannot manage billing", editor, authz.CapManageBilling, false},
		{"editor cannot manage organization", editor, authz.CapManageOrganization, false},

		{"viewer reads", viewer, authz.CapRead, true},
		{"viewer accesses settings", viewer, authz.CapAccessSettings, true},
		{"viewer cannot edit", viewer, authz.CapEdit, false},
		{"viewer cannot manage users", viewer, authz.CapManageUsers, false},

		{"unknown capability denied even for owner", owner, authz.Capability("export"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := authz.Allowed(tt.role, tt.cap); got != tt.want {
				t.Fatalf("Allowed(%v, %q) = %v, want %v", tt.role, tt.cap, got, tt.want)
			}
		})
	}
}

func TestRequireDenialIsCapabilitySpecific(t *testing.T) {
	viewer := ptrx.Ptr(kernel.RoleViewer)

	err := authz.Require(viewer, authz.CapEdit)
	if err == nil {
		t.Fatal("expected a forbidden error")
	}
	if !errx.IsType(err, errx.TypeForbidden) {
		t.Fatalf("error type = %v, want forbidden", err)
	}

	editDenial := err.(*errx.Error).Message
	usersDenial := authz.Require(viewer, authz.CapManageUsers).(*errx.Error).Message
	if editDenial == usersDenial {
		t.Fatal("different capabilities must carry different denial messages")
	}
}

func TestRequireNilForGranted(t *testing.T) {
	if err := authz.Require(nil, authz.CapManageBilling); err != nil {
		t.Fatalf("owner denied billing: %v", err)
	}
}
