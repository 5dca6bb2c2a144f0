package access

import (
	"slices"

	"github.com/snowflake-kv/sfdash/rpc/common"
)

// Capabilities known to the dashboard
const (
	Wildcard     = "*"
	ControlPanel = "control_panel"
	CPDatabase   = "cp_database"
	ChangeConfig = "change_config"
	DBRead       = "db_read"
	DBWrite      = "db_write"
	DBStats      = "db_stats"
)

// Grant is an immutable set of capabilities issued by the server during the
// handshake. The zero value denies everything.
type Grant struct {
	alias       string
	permissions []string
	wildcard    bool
}

// Empty is the grant used while no handshake has completed
var Empty = NewGrant(nil)

// NewGrant creates a grant from the raw access data of the accepted action.
// Nil data results in the default-deny grant.
func NewGrant(data *common.AccessData) *Grant {
	if data == nil {
		return &Grant{}
	}

	perms := slices.Clone(data.Permissions)
	return &Grant{
		alias:       data.Alias,
		permissions: perms,
		wildcard:    slices.Contains(perms, Wildcard),
	}
}

// HasAccess reports whether the capability is granted, either explicitly or
// through the wildcard.
func (g *Grant) HasAccess(capability string) bool {
	if g == nil {
		return false
	}
	if g.wildcard {
		return true
	}
	if capability == "" {
		return false
	}
	return slices.Contains(g.permissions, capability)
}

// Alias returns the name the server knows the credential by
func (g *Grant) Alias() string {
	if g == nil {
		return ""
	}
	return g.alias
}

// Permissions returns a copy of the granted capabilities
func (g *Grant) Permissions() []string {
	if g == nil {
		return nil
	}
	return slices.Clone(g.permissions)
}

// IsEmpty reports whether the grant holds no capability at all
func (g *Grant) IsEmpty() bool {
	return g == nil || len(g.permissions) == 0
}

// Export returns the raw access data the grant was built from
func (g *Grant) Export() common.AccessData {
	return common.AccessData{
		Alias:       g.Alias(),
		Permissions: g.Permissions(),
	}
}
