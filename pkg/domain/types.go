package domain

import (
	"fmt"
	"time"
)

// Role identifies one of the two managed server processes
type Role string

const (
	RoleBackend  Role = "backend"
	RoleFrontend Role = "frontend"
)

// Roles lists the managed roles in launch order
var Roles = []Role{RoleBackend, RoleFrontend}

// PortAssignment is the port pair chosen for one launch.
// It is produced once by the resolver and never mutated afterwards.
type PortAssignment struct {
	Backend  int
	Frontend int
}

// Port returns the port assigned to role
func (p PortAssignment) Port(role Role) int {
	if role == RoleFrontend {
		return p.Frontend
	}
	return p.Backend
}

// WithPort returns a copy of p with role's port replaced
func (p PortAssignment) WithPort(role Role, port int) PortAssignment {
	if role == RoleFrontend {
		p.Frontend = port
	} else {
		p.Backend = port
	}
	return p
}

func (p PortAssignment) String() string {
	return fmt.Sprintf("backend=%d frontend=%d", p.Backend, p.Frontend)
}

// HealthSnapshot is one liveness observation of the backend
type HealthSnapshot struct {
	Timestamp      time.Time
	BackendHealthy bool
	Message        string
}
