package zk

// Perm is a bitmask of ACL permissions, matching the well-known
// permission bits carried on the wire.
type Perm int32

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermCreate
	PermDelete
	PermAdmin
)

// PermAll grants every permission bit.
const PermAll = PermRead | PermWrite | PermCreate | PermDelete | PermAdmin

// Flag is a bitmask of znode creation flags.
type Flag int32

const (
	// FlagEphemeral marks a node for automatic deletion when the creating
	// session ends.
	FlagEphemeral Flag = 1 << iota

	// FlagSequence appends a monotonically increasing, server-assigned
	// suffix to the requested path.
	FlagSequence
)

// ID identifies a principal under an authentication scheme.
type ID struct {
	Scheme string
	ID     string
}

// ACL pairs a permission set with the principal it applies to.
type ACL struct {
	Perms Perm
	ID    ID
}

const (
	schemeWorld = "world"
	schemeAuth  = "auth"
)

// AnyoneIDUnsafe is the "anyone" principal under the world scheme.
var AnyoneIDUnsafe = ID{Scheme: schemeWorld, ID: "anyone"} //nolint:gochecknoglobals // well-known constant

// AuthIDs is the placeholder principal meaning "whoever the creator is",
// resolved against the session's registered credentials at creation time.
var AuthIDs = ID{Scheme: schemeAuth, ID: ""} //nolint:gochecknoglobals // well-known constant

// OpenACLUnsafe grants every permission to anyone; suitable only for
// paths with no confidentiality or integrity requirement.
var OpenACLUnsafe = []ACL{{Perms: PermAll, ID: AnyoneIDUnsafe}} //nolint:gochecknoglobals // well-known constant

// ReadACLUnsafe grants read-only access to anyone.
var ReadACLUnsafe = []ACL{{Perms: PermRead, ID: AnyoneIDUnsafe}} //nolint:gochecknoglobals // well-known constant

// CreatorAllACL grants every permission to whoever creates the node,
// under their registered auth credential.
var CreatorAllACL = []ACL{{Perms: PermAll, ID: AuthIDs}} //nolint:gochecknoglobals // well-known constant

// WorldACL builds an ACL list granting perms to anyone.
func WorldACL(perms Perm) []ACL {
	return []ACL{{Perms: perms, ID: AnyoneIDUnsafe}}
}

// AuthACL builds an ACL list granting perms to the creating session's
// registered credential.
func AuthACL(perms Perm) []ACL {
	return []ACL{{Perms: perms, ID: AuthIDs}}
}
