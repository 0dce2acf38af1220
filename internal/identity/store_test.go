package identity_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxclub/liveroom/internal/domain"
	"github.com/voxclub/liveroom/internal/identity"
)

func TestIdentityStableAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	store := identity.NewStore(path)

	first, err := store.Identity()
	require.NoError(t, err)
	require.NotEmpty(t, first.UserID)
	require.Equal(t, domain.DefaultUsername, first.Username)

	second, err := store.Identity()
	require.NoError(t, err)
	require.Equal(t, first.UserID, second.UserID)

	// A fresh store over the same file sees the same id.
	reopened, err := identity.NewStore(path).Identity()
	require.NoError(t, err)
	require.Equal(t, first.UserID, reopened.UserID)
}

func TestSetUsernamePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	store := identity.NewStore(path)

	id, err := store.SetUsername("  alice  ")
	require.NoError(t, err)
	require.Equal(t, "alice", id.Username)

	reloaded, err := identity.NewStore(path).Identity()
	require.NoError(t, err)
	require.Equal(t, "alice", reloaded.Username)
	require.Equal(t, id.UserID, reloaded.UserID)
}

func TestSetUsernameValidation(t *testing.T) {
	store := identity.NewStore(filepath.Join(t.TempDir(), "identity.json"))

	_, err := store.SetUsername("   ")
	require.ErrorIs(t, err, domain.ErrUsernameEmpty)

	_, err = store.SetUsername(strings.Repeat("x", domain.MaxUsernameLen+1))
	require.ErrorIs(t, err, domain.ErrUsernameTooLong)
}
