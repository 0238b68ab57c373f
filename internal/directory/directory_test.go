package directory

import (
	"context"
	"errors"
	"testing"

	"docflow/internal/rbac"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDirectory = `
actors:
  - id: u_alice
    name: Alice
    role: Employee
    supervisor: u_sam
    manager: u_mia
  - id: u_sam
    name: Sam
    role: supervisor
  - id: u_mia
    role: manager
`

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/actors.yaml", []byte(sampleDirectory), 0o644))

	dir, err := LoadFile(fs, "/actors.yaml", "")
	require.NoError(t, err)

	alice, err := dir.Lookup(context.Background(), "u_alice")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleEmployee, alice.Role)
	assert.Equal(t, "u_sam", alice.SupervisorID)
	assert.Equal(t, "u_mia", alice.ManagerID)

	mia, err := dir.Lookup(context.Background(), "u_mia")
	require.NoError(t, err)
	assert.Equal(t, "u_mia", mia.Name)
	assert.Len(t, dir.List(), 3)
}

func TestLoadFileRejectsUnknownRole(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/actors.yaml", []byte("actors:\n  - id: u_x\n    role: owner\n"), 0o644))

	_, err := LoadFile(fs, "/actors.yaml", "")
	require.Error(t, err)
}

func TestLookupFallback(t *testing.T) {
	strict := NewStatic("")
	_, err := strict.Lookup(context.Background(), "u_ghost")
	assert.True(t, errors.Is(err, ErrUnknownActor))

	lenient := NewStatic("viewer")
	ghost, err := lenient.Lookup(context.Background(), "u_ghost")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleViewer, ghost.Role)

	_, err = lenient.Lookup(context.Background(), " ")
	assert.ErrorIs(t, err, ErrUnknownActor)
}
