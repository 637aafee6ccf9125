package booking

import (
	"fmt"
	"strings"
)

// Role is the caller's role as asserted by the authentication layer.
// The engine trusts it; it never verifies credentials itself.
type Role string

const (
	RoleUser          Role = "USER"
	RoleOperator      Role = "OPERATOR"
	RoleAdministrator Role = "ADMINISTRATOR"
)

// Actor identifies the caller on every engine operation. It is passed
// explicitly rather than carried as ambient request state.
type Actor struct {
	Role   Role
	UserID string
}

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleOperator:
		return RoleOperator, nil
	case RoleAdministrator:
		return RoleAdministrator, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (a Actor) elevated() bool {
	return a.Role == RoleOperator || a.Role == RoleAdministrator
}
