package access

import (
	"sync"

	"github.com/spf13/viper"
)

// Roles recognised for privileged platform operations.
const (
	RoleGuardian    = "guardian"
	RoleServer      = "server"
	RoleTrustedSelf = "trustedSelf"
)

// Control decides whether an identity may act in a role. Engine
// operations check the role they need before touching any state.
type Control interface {
	IsAuthorized(role string, identity string) bool
}

// ConfigControl is a Control backed by role membership lists from
// configuration. Membership can also be adjusted at runtime.
type ConfigControl struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{}
}

// NewConfigControl builds a ConfigControl from the access.* keys.
func NewConfigControl() *ConfigControl {
	c := &ConfigControl{members: make(map[string]map[string]struct{})}
	for role, key := range map[string]string{
		RoleGuardian:    "access.guardians",
		RoleServer:      "access.servers",
		RoleTrustedSelf: "access.trusted",
	} {
		for _, id := range viper.GetStringSlice(key) {
			c.grantLocked(role, id)
		}
	}
	return c
}

func (c *ConfigControl) grantLocked(role, identity string) {
	if c.members[role] == nil {
		c.members[role] = make(map[string]struct{})
	}
	c.members[role][identity] = struct{}{}
}

// Grant adds an identity to a role.
func (c *ConfigControl) Grant(role, identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grantLocked(role, identity)
}

// Revoke removes an identity from a role.
func (c *ConfigControl) Revoke(role, identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members[role], identity)
}

// IsAuthorized reports whether identity holds role.
func (c *ConfigControl) IsAuthorized(role string, identity string) bool {
	if identity == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[role][identity]
	return ok
}
