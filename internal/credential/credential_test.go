package credential

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStoreGeneratesRootCredential(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, os.Getuid(), os.Getgid())
	require.NoError(t, err)

	root := s.Root()
	require.Len(t, root.Token, tokenLength*2)
	require.Equal(t, "root", root.User)

	user, ok := s.Lookup(root.Token)
	require.True(t, ok)
	require.Equal(t, "root", user)

	info, err := os.Stat(root.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0440), info.Mode().Perm())
}

func TestIssueForChildAndRevoke(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, os.Getuid(), os.Getgid())
	require.NoError(t, err)

	cred, err := s.IssueForChild(1234, os.Getuid(), os.Getgid(), "alice")
	require.NoError(t, err)
	require.NotEmpty(t, cred.Token)

	user, ok := s.Lookup(cred.Token)
	require.True(t, ok)
	require.Equal(t, "alice", user)

	require.NoError(t, s.Revoke(1234))
	_, ok = s.Lookup(cred.Token)
	require.False(t, ok)

	_, err = os.Stat(cred.Path)
	require.True(t, os.IsNotExist(err))
}

func TestLookupUnknownTokenIsNoMatch(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, os.Getuid(), os.Getgid())
	require.NoError(t, err)

	_, ok := s.Lookup("deadbeef")
	require.False(t, ok)
}

func TestRevokeUnknownPIDIsNoop(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, os.Getuid(), os.Getgid())
	require.NoError(t, err)
	require.NoError(t, s.Revoke(99999))
}
