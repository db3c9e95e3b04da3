package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPortAssignment(t *testing.T) {
	ports := PortAssignment{Backend: 9002, Frontend: 3000}

	assert.Equal(t, 9002, ports.Port(RoleBackend))
	assert.Equal(t, 3000, ports.Port(RoleFrontend))

	moved := ports.WithPort(RoleBackend, 9003)
	assert.Equal(t, PortAssignment{Backend: 9003, Frontend: 3000}, moved)
	assert.Equal(t, 9002, ports.Backend, "original assignment must not change")

	assert.Equal(t, "backend=9002 frontend=3000", ports.String())
}
