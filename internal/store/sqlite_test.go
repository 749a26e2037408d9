// ABOUTME: Tests for SQLite store setup, users, groups and memberships
// ABOUTME: Shares the createTestStore helper with the catalog and chat tests

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func createTestUser(t *testing.T, s *SQLiteStore, id string, admin bool) *User {
	t.Helper()
	user := &User{ID: id, Email: id + "@example.com", Name: id, IsAdmin: admin}
	require.NoError(t, s.CreateUser(context.Background(), user))
	return user
}

func createTestGroup(t *testing.T, s *SQLiteStore, id string) *Group {
	t.Helper()
	group := &Group{ID: id, Name: id}
	require.NoError(t, s.CreateGroup(context.Background(), group))
	return group
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.CreateUser(context.Background(), &User{ID: "u1", Email: "a@example.com", Name: "A"}))
	require.NoError(t, first.Close())

	// Schema creation and migrations must be idempotent
	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	user, err := second.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", user.Email)
}

func TestUsers_CRUD(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	user := &User{ID: "user-1", Email: "ada@example.com", Name: "Ada", PasswordHash: "hash"}
	require.NoError(t, store.CreateUser(ctx, user))

	got, err := store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, "hash", got.PasswordHash)
	assert.False(t, got.IsAdmin)

	byEmail, err := store.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byEmail.ID)

	require.NoError(t, store.SetUserAdmin(ctx, "user-1", true))
	got, err = store.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	require.NoError(t, store.DeleteUser(ctx, "user-1"))
	_, err = store.GetUser(ctx, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsers_DuplicateEmail(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &User{ID: "a", Email: "same@example.com", Name: "A"}))
	err := store.CreateUser(ctx, &User{ID: "b", Email: "same@example.com", Name: "B"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUsers_NotFound(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetUserAdmin(ctx, "missing", true), ErrNotFound)
	assert.ErrorIs(t, store.DeleteUser(ctx, "missing"), ErrNotFound)
}

func TestMemberships(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	createTestUser(t, store, "u1", false)
	createTestGroup(t, store, "g1")
	createTestGroup(t, store, "g2")

	require.NoError(t, store.AddMembership(ctx, "u1", "g2", MembershipRoleMember))
	require.NoError(t, store.AddMembership(ctx, "u1", "g1", ""))
	// Re-adding updates the role instead of failing
	require.NoError(t, store.AddMembership(ctx, "u1", "g1", MembershipRoleAdmin))

	ids, err := store.ListUserGroupIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2"}, ids)

	require.NoError(t, store.RemoveMembership(ctx, "u1", "g2"))
	ids, err = store.ListUserGroupIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids)

	assert.ErrorIs(t, store.RemoveMembership(ctx, "u1", "g2"), ErrNotFound)
	assert.ErrorIs(t, store.AddMembership(ctx, "u1", "nope", MembershipRoleMember), ErrNotFound)
}

func TestMemberships_UnknownUserHasNoGroups(t *testing.T) {
	store := createTestStore(t)

	ids, err := store.ListUserGroupIDs(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDeleteGroup_CascadesMemberships(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	createTestUser(t, store, "u1", false)
	createTestGroup(t, store, "g1")
	require.NoError(t, store.AddMembership(ctx, "u1", "g1", MembershipRoleMember))

	require.NoError(t, store.DeleteGroup(ctx, "g1"))

	ids, err := store.ListUserGroupIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
