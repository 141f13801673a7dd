package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_CreatesUser(t *testing.T) {
	r := New()

	require.NoError(t, r.Login("alice", "10.0.0.5"))
	assert.True(t, r.UserExists("alice"))

	sessions := r.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "10.0.0.5", sessions[0].ClientIP)
}

func TestLogin_SecondSessionRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.Login("alice", "10.0.0.5"))

	err := r.Login("alice", "10.0.0.9")
	require.ErrorIs(t, err, ErrAlreadyLoggedIn)
	assert.Contains(t, err.Error(), "10.0.0.5", "rejection names the prior address")

	// first session undisturbed
	sessions := r.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "10.0.0.5", sessions[0].ClientIP)
}

func TestLogout_RetainsUser(t *testing.T) {
	r := New()
	require.NoError(t, r.Login("alice", "10.0.0.5"))

	r.Logout("alice")
	assert.Empty(t, r.Sessions())
	assert.True(t, r.UserExists("alice"))

	// re-login succeeds after logout
	assert.NoError(t, r.Login("alice", "10.0.0.9"))
}

func TestLogin_RejectsReservedNames(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Login("", "10.0.0.5"), ErrInvalidName)
	assert.ErrorIs(t, r.Login(SystemOwner, "10.0.0.5"), ErrInvalidName)

	// names with registry format delimiters never become users
	assert.ErrorIs(t, r.Login("bob:1:1", "10.0.0.5"), ErrInvalidName)
	assert.ErrorIs(t, r.Login("a/b", "10.0.0.5"), ErrInvalidName)
	assert.ErrorIs(t, r.Login("a\nb", "10.0.0.5"), ErrInvalidName)
	assert.False(t, r.UserExists("bob:1:1"))
}

func TestUsersSorted(t *testing.T) {
	r := New()
	require.NoError(t, r.Login("carol", "1.1.1.1"))
	require.NoError(t, r.Login("alice", "2.2.2.2"))
	require.NoError(t, r.Login("bob", "3.3.3.3"))

	users := r.Users()
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
	assert.Equal(t, "carol", users[2].Username)
}
