package kernel

// IdentityID is the stable unique id assigned by the identity provider.
type IdentityID string

func NewIdentityID(id string) IdentityID { return IdentityID(id) }
func (i IdentityID) String() string      { return string(i) }
func (i IdentityID) IsEmpty() bool       { return string(i) == "" }

// AccountID identifies a paying account. By construction it equals the
// owner's IdentityID.
type AccountID string

func NewAccountID(id string) AccountID { return AccountID(id) }
func (a AccountID) String() string     { return string(a) }
func (a AccountID) IsEmpty() bool      { return string(a) == "" }

// Role is a delegated team-member role. Account owners carry no role at all:
// the absence of a role is the owner/delegate discriminator.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
)

func (r Role) String() string { return string(r) }

// IsValid reports whether r is a known delegated role.
func (r Role) IsValid() bool {
	return r == RoleViewer || r == RoleEditor
}
