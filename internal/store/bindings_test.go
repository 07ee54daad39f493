package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindLookupUnbind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userbind.json")
	b, err := Open(path)
	require.NoError(t, err)

	require.False(t, b.IsBound("1001"))
	require.NoError(t, b.Bind("1001", "alice"))

	name, ok := b.Lookup("1001")
	require.True(t, ok)
	require.Equal(t, "alice", name)

	require.NoError(t, b.Unbind("1001"))
	require.False(t, b.IsBound("1001"))
	require.ErrorIs(t, b.Unbind("1001"), ErrNotBound)
}

func TestBindingsPersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userbind.json")

	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.Bind("1001", "alice"))
	require.NoError(t, b.Bind("1002", "bob"))

	reopened, err := Open(path)
	require.NoError(t, err)

	name, ok := reopened.Lookup("1002")
	require.True(t, ok)
	require.Equal(t, "bob", name)
	require.True(t, reopened.IsBound("1001"))
}

func TestNameTaken(t *testing.T) {
	b, err := Open(filepath.Join(t.TempDir(), "userbind.json"))
	require.NoError(t, err)
	require.NoError(t, b.Bind("1001", "alice"))

	require.True(t, b.NameTaken("alice", "1002"))
	require.False(t, b.NameTaken("alice", "1001"), "a user does not conflict with their own binding")
	require.False(t, b.NameTaken("bob", "1002"))
}

func TestOpenMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userbind.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0600))

	_, err := Open(path)
	require.Error(t, err)
}
