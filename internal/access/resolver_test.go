// ABOUTME: Tests for access resolution against a real SQLite catalog
// ABOUTME: Covers the admin/grant table, fail-closed lookups, tool selection and cache invalidation

package access

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/cache"
	"github.com/2389/coven-chat/internal/store"
)

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New(time.Minute, 100)
	t.Cleanup(c.Close)
	return c
}

// seedCatalog builds:
//
//	admin   (admin flag, no groups)
//	alice   in eng      -> m-gpt, m-claude ; tools t-search
//	bob     in eng,ops  -> m-gpt, m-claude, m-llama ; tools t-search, t-shell
//	carol   no groups
func seedCatalog(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	for _, u := range []*store.User{
		{ID: "admin", Email: "admin@example.com", Name: "Admin", IsAdmin: true},
		{ID: "alice", Email: "alice@example.com", Name: "Alice"},
		{ID: "bob", Email: "bob@example.com", Name: "Bob"},
		{ID: "carol", Email: "carol@example.com", Name: "Carol"},
	} {
		require.NoError(t, s.CreateUser(ctx, u))
	}
	require.NoError(t, s.CreateGroup(ctx, &store.Group{ID: "eng", Name: "eng"}))
	require.NoError(t, s.CreateGroup(ctx, &store.Group{ID: "ops", Name: "ops"}))
	require.NoError(t, s.AddMembership(ctx, "alice", "eng", store.MembershipRoleMember))
	require.NoError(t, s.AddMembership(ctx, "bob", "eng", store.MembershipRoleMember))
	require.NoError(t, s.AddMembership(ctx, "bob", "ops", store.MembershipRoleAdmin))

	require.NoError(t, s.CreateProvider(ctx, &store.Provider{ID: "p-openai", Name: "OpenAI", Family: "openai", BaseURL: "https://secret.example"}))
	for _, m := range []string{"m-gpt", "m-claude", "m-llama", "m-hidden"} {
		require.NoError(t, s.CreateModelConfig(ctx, &store.ModelConfig{ID: m, ProviderID: "p-openai", Model: m, Name: m}))
	}
	require.NoError(t, s.SetCredential(ctx, "m-gpt", store.CredentialAPIKey, "sk-secret"))

	require.NoError(t, s.GrantModel(ctx, "eng", "m-gpt"))
	require.NoError(t, s.GrantModel(ctx, "eng", "m-claude"))
	require.NoError(t, s.GrantModel(ctx, "ops", "m-gpt"))
	require.NoError(t, s.GrantModel(ctx, "ops", "m-llama"))

	require.NoError(t, s.CreateTool(ctx, &store.Tool{ID: "t-search", Name: "search"}))
	require.NoError(t, s.CreateTool(ctx, &store.Tool{ID: "t-shell", Name: "shell"}))
	require.NoError(t, s.CreateTool(ctx, &store.Tool{ID: "t-hidden", Name: "hidden"}))
	require.NoError(t, s.GrantTool(ctx, "eng", "t-search"))
	require.NoError(t, s.GrantTool(ctx, "ops", "t-shell"))
}

func modelIDs(models []*store.ResolvedModel) []string {
	ids := []string{}
	for _, m := range models {
		ids = append(ids, m.Config.ID)
	}
	return ids
}

func TestResolveModels_AdminOrGrant(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	r := NewResolver(s, nil, nil)

	all := []string{"m-claude", "m-gpt", "m-hidden", "m-llama"}
	tests := []struct {
		user string
		want []string
	}{
		{user: "admin", want: all},
		{user: "alice", want: []string{"m-claude", "m-gpt"}},
		{user: "bob", want: []string{"m-claude", "m-gpt", "m-llama"}},
		{user: "carol", want: []string{}},
		{user: "nobody", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			models, err := r.ResolveModels(context.Background(), tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, modelIDs(models))

			// Every model either resolves or is denied, never both
			for _, id := range all {
				_, err := r.FindModel(context.Background(), tt.user, id)
				if contains(tt.want, id) {
					assert.NoError(t, err, id)
				} else {
					assert.ErrorIs(t, err, ErrAuthorizationDenied, id)
				}
			}
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestResolveModels_CarriesCredentials(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	r := NewResolver(s, nil, nil)

	m, err := r.FindModel(context.Background(), "alice", "m-gpt")
	require.NoError(t, err)
	require.Len(t, m.Credentials, 1)
	assert.Equal(t, "sk-secret", m.Credentials[0].Value)
}

func TestFindModel_DenialKinds(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	r := NewResolver(s, nil, nil)
	ctx := context.Background()

	_, err := r.FindModel(ctx, "carol", "m-gpt")
	assert.ErrorIs(t, err, ErrNoAccess)

	_, err = r.FindModel(ctx, "alice", "m-llama")
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.False(t, errors.Is(err, ErrNoAccess))
}

func TestResolveModelsForDisplay_StripsSecrets(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	r := NewResolver(s, nil, nil)

	views, err := r.ResolveModelsForDisplay(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, ModelView{
		ID:       "m-gpt",
		Name:     "m-gpt",
		Model:    "m-gpt",
		Provider: "OpenAI",
		Family:   "openai",
	}, views[1])
}

func TestResolveTools(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	r := NewResolver(s, nil, nil)
	ctx := context.Background()

	names := func(tools []*store.Tool) []string {
		out := []string{}
		for _, t := range tools {
			out = append(out, t.Name)
		}
		return out
	}

	tools, err := r.ResolveTools(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"hidden", "search", "shell"}, names(tools))

	tools, err = r.ResolveTools(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"search", "shell"}, names(tools))

	tools, err = r.ResolveTools(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestSelectTools_DropsDisallowed(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	r := NewResolver(s, nil, nil)

	selected, err := r.SelectTools(context.Background(), "alice", []string{"t-shell", "t-search", "t-missing", "t-search"})
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "t-search", selected[0].ID)

	none, err := r.SelectTools(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResolver_UsesCache(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	c := createTestCache(t)
	r := NewResolver(s, c, nil)
	ctx := context.Background()

	_, err := r.ResolveModels(ctx, "alice")
	require.NoError(t, err)

	// A direct store write bypasses invalidation, so the cached value survives
	require.NoError(t, s.RevokeModel(ctx, "eng", "m-claude"))
	models, err := r.ResolveModels(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"m-claude", "m-gpt"}, modelIDs(models))
}

func TestCatalog_RevokeInvalidatesCache(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	c := createTestCache(t)
	r := NewResolver(s, c, nil)
	cat := NewCatalog(s, c, nil)
	ctx := context.Background()

	_, err := r.FindModel(ctx, "alice", "m-claude")
	require.NoError(t, err)

	require.NoError(t, cat.RevokeModel(ctx, "eng", "m-claude"))

	_, err = r.FindModel(ctx, "alice", "m-claude")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestCatalog_RevokeOnlyGrantDeniesAll(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	c := createTestCache(t)
	r := NewResolver(s, c, nil)
	cat := NewCatalog(s, c, nil)
	ctx := context.Background()

	require.NoError(t, cat.RemoveMembership(ctx, "alice", "eng"))

	_, err := r.FindModel(ctx, "alice", "m-gpt")
	assert.ErrorIs(t, err, ErrNoAccess)

	require.NoError(t, cat.SetUserAdmin(ctx, "alice", true))
	_, err = r.FindModel(ctx, "alice", "m-hidden")
	assert.NoError(t, err)
}

func TestCatalog_FailedWriteKeepsCache(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	c := createTestCache(t)
	r := NewResolver(s, c, nil)
	cat := NewCatalog(s, c, nil)
	ctx := context.Background()

	_, err := r.ResolveModels(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	err = cat.RevokeModel(ctx, "eng", "m-llama")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, c.Len())
}

// pausingStore parks the first group-scoped read after it has loaded rows,
// so a catalog write can land between the read and the cache fill.
type pausingStore struct {
	*store.SQLiteStore
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func newPausingStore(s *store.SQLiteStore) *pausingStore {
	return &pausingStore{SQLiteStore: s, loaded: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingStore) pause() {
	p.once.Do(func() {
		close(p.loaded)
		<-p.release
	})
}

func (p *pausingStore) ListResolvedModelsForGroups(ctx context.Context, groupIDs []string) ([]*store.ResolvedModel, error) {
	models, err := p.SQLiteStore.ListResolvedModelsForGroups(ctx, groupIDs)
	p.pause()
	return models, err
}

func (p *pausingStore) ListToolsForGroups(ctx context.Context, groupIDs []string) ([]*store.Tool, error) {
	tools, err := p.SQLiteStore.ListToolsForGroups(ctx, groupIDs)
	p.pause()
	return tools, err
}

func TestCatalog_RevokeDuringResolveIsNotCached(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	c := createTestCache(t)
	ps := newPausingStore(s)
	r := NewResolver(ps, c, nil)
	cat := NewCatalog(s, c, nil)
	ctx := context.Background()

	inflight := make(chan error, 1)
	go func() {
		_, err := r.FindModel(ctx, "alice", "m-claude")
		inflight <- err
	}()

	<-ps.loaded
	require.NoError(t, cat.RevokeModel(ctx, "eng", "m-claude"))
	close(ps.release)

	// The in-flight call read before the revoke and may still succeed
	require.NoError(t, <-inflight)

	_, err := r.FindModel(ctx, "alice", "m-claude")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestCatalog_ToolRevokeDuringResolveIsNotCached(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	c := createTestCache(t)
	ps := newPausingStore(s)
	r := NewResolver(ps, c, nil)
	cat := NewCatalog(s, c, nil)
	ctx := context.Background()

	inflight := make(chan error, 1)
	go func() {
		_, err := r.SelectTools(ctx, "alice", []string{"t-search"})
		inflight <- err
	}()

	<-ps.loaded
	require.NoError(t, cat.RevokeTool(ctx, "eng", "t-search"))
	close(ps.release)
	require.NoError(t, <-inflight)

	selected, err := r.SelectTools(ctx, "alice", []string{"t-search"})
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestCatalog_CreateModelRollsBackOnBadCredential(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	c := createTestCache(t)
	r := NewResolver(s, c, nil)
	cat := NewCatalog(s, c, nil)
	ctx := context.Background()

	err := cat.CreateModel(ctx,
		&store.ModelConfig{ID: "m-new", ProviderID: "p-openai", Model: "new", Name: "new"},
		[]store.Credential{{Key: store.CredentialAPIKey, Value: "sk"}, {Key: "password", Value: "x"}},
		nil,
	)
	require.ErrorIs(t, err, store.ErrInvalidCredentialKey)

	_, err = s.GetModelConfig(ctx, "m-new")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, cat.CreateModel(ctx,
		&store.ModelConfig{ID: "m-new", ProviderID: "p-openai", Model: "new", Name: "new"},
		[]store.Credential{{Key: store.CredentialAPIKey, Value: "sk"}},
		[]store.Setting{{Key: "temperature", Value: []byte(`0.5`)}},
	))
	m, err := r.FindModel(ctx, "admin", "m-new")
	require.NoError(t, err)
	assert.Len(t, m.Credentials, 1)
	assert.Len(t, m.Settings, 1)
}

func TestCatalog_MembershipInvalidatesOnlyThatUser(t *testing.T) {
	s := createTestStore(t)
	seedCatalog(t, s)
	c := createTestCache(t)
	r := NewResolver(s, c, nil)
	cat := NewCatalog(s, c, nil)
	ctx := context.Background()

	_, err := r.ResolveModels(ctx, "alice")
	require.NoError(t, err)
	_, err = r.ResolveModels(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	require.NoError(t, cat.AddMembership(ctx, "carol", "ops", store.MembershipRoleMember))
	assert.Equal(t, 1, c.Len())

	models, err := r.ResolveModels(ctx, "carol")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m-gpt", "m-llama"}, modelIDs(models))
}
