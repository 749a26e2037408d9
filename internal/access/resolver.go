// ABOUTME: Access resolver deciding which models and tools a user may use
// ABOUTME: Admins see everything; everyone else gets the distinct union of their groups' grants

package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-chat/internal/cache"
	"github.com/2389/coven-chat/internal/store"
)

// ErrAuthorizationDenied is returned when a user asks for something outside their resolved set.
var ErrAuthorizationDenied = errors.New("authorization denied")

// ErrNoAccess means the user resolves no models at all.
var ErrNoAccess = fmt.Errorf("%w: no models available", ErrAuthorizationDenied)

// ErrModelNotFound means the requested model is not in the user's resolved set.
var ErrModelNotFound = fmt.Errorf("%w: model not found", ErrAuthorizationDenied)

// Store is the read surface the resolver needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListUserGroupIDs(ctx context.Context, userID string) ([]string, error)
	ListResolvedModels(ctx context.Context) ([]*store.ResolvedModel, error)
	ListResolvedModelsForGroups(ctx context.Context, groupIDs []string) ([]*store.ResolvedModel, error)
	ListTools(ctx context.Context) ([]*store.Tool, error)
	ListToolsForGroups(ctx context.Context, groupIDs []string) ([]*store.Tool, error)
}

// ModelView is the credential-free projection of a model safe to show a user.
type ModelView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Model          string `json:"model"`
	Provider       string `json:"provider"`
	Family         string `json:"family"`
	SupportsTools  bool   `json:"supports_tools"`
	SupportsImages bool   `json:"supports_images"`
}

// Resolver computes a user's visible models and tools.
type Resolver struct {
	store  Store
	cache  *cache.Cache
	logger *slog.Logger
}

// NewResolver creates a resolver. A nil cache disables caching.
func NewResolver(s Store, c *cache.Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		cache:  c,
		logger: logger.With("component", "access"),
	}
}

func modelsKey(userID string) string { return "models:" + userID }
func toolsKey(userID string) string  { return "tools:" + userID }

func (r *Resolver) generation() uint64 {
	if r.cache == nil {
		return 0
	}
	return r.cache.Generation()
}

// subject describes who is asking. A missing user resolves to nothing.
type subject struct {
	exists   bool
	isAdmin  bool
	groupIDs []string
}

func (r *Resolver) loadSubject(ctx context.Context, userID string) (subject, error) {
	user, err := r.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("unknown user resolves nothing", "user_id", userID)
		return subject{}, nil
	}
	if err != nil {
		return subject{}, fmt.Errorf("loading user: %w", err)
	}
	if user.IsAdmin {
		return subject{exists: true, isAdmin: true}, nil
	}

	groupIDs, err := r.store.ListUserGroupIDs(ctx, userID)
	if err != nil {
		return subject{}, fmt.Errorf("loading memberships: %w", err)
	}
	return subject{exists: true, groupIDs: groupIDs}, nil
}

// ResolveModels returns every model config the user may use, with provider,
// credentials and settings attached. The result must not be mutated.
func (r *Resolver) ResolveModels(ctx context.Context, userID string) ([]*store.ResolvedModel, error) {
	key := modelsKey(userID)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if models, ok := v.([]*store.ResolvedModel); ok {
				return models, nil
			}
		}
	}

	// Read before the store so a concurrent invalidation discards our result.
	gen := r.generation()

	sub, err := r.loadSubject(ctx, userID)
	if err != nil {
		return nil, err
	}

	var models []*store.ResolvedModel
	switch {
	case !sub.exists:
		return []*store.ResolvedModel{}, nil
	case sub.isAdmin:
		models, err = r.store.ListResolvedModels(ctx)
	case len(sub.groupIDs) == 0:
		models = []*store.ResolvedModel{}
	default:
		models, err = r.store.ListResolvedModelsForGroups(ctx, sub.groupIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving models: %w", err)
	}

	if r.cache != nil && !r.cache.SetIfGeneration(key, models, gen) {
		r.logger.Debug("catalog changed during resolve, not caching", "user_id", userID)
	}
	r.logger.Debug("resolved models", "user_id", userID, "admin", sub.isAdmin, "count", len(models))
	return models, nil
}

// ResolveModelsForDisplay returns the user's models without credentials,
// settings, provider configuration or base URL.
func (r *Resolver) ResolveModelsForDisplay(ctx context.Context, userID string) ([]ModelView, error) {
	models, err := r.ResolveModels(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]ModelView, 0, len(models))
	for _, m := range models {
		views = append(views, ModelView{
			ID:             m.Config.ID,
			Name:           m.Config.Name,
			Description:    m.Config.Description,
			Model:          m.Config.Model,
			Provider:       m.Provider.Name,
			Family:         m.Provider.Family,
			SupportsTools:  m.Config.SupportsTools,
			SupportsImages: m.Config.SupportsImages,
		})
	}
	return views, nil
}

// ResolveTools returns every tool the user may use.
func (r *Resolver) ResolveTools(ctx context.Context, userID string) ([]*store.Tool, error) {
	key := toolsKey(userID)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if tools, ok := v.([]*store.Tool); ok {
				return tools, nil
			}
		}
	}

	// Read before the store so a concurrent invalidation discards our result.
	gen := r.generation()

	sub, err := r.loadSubject(ctx, userID)
	if err != nil {
		return nil, err
	}

	var tools []*store.Tool
	switch {
	case !sub.exists:
		return []*store.Tool{}, nil
	case sub.isAdmin:
		tools, err = r.store.ListTools(ctx)
	case len(sub.groupIDs) == 0:
		tools = []*store.Tool{}
	default:
		tools, err = r.store.ListToolsForGroups(ctx, sub.groupIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving tools: %w", err)
	}
	if tools == nil {
		tools = []*store.Tool{}
	}

	if r.cache != nil && !r.cache.SetIfGeneration(key, tools, gen) {
		r.logger.Debug("catalog changed during resolve, not caching", "user_id", userID)
	}
	r.logger.Debug("resolved tools", "user_id", userID, "admin", sub.isAdmin, "count", len(tools))
	return tools, nil
}

// FindModel returns the model with the given config ID if the user may use it.
// Returns ErrNoAccess when the user resolves no models and ErrModelNotFound
// when the model is outside the set. Both wrap ErrAuthorizationDenied.
func (r *Resolver) FindModel(ctx context.Context, userID, modelConfigID string) (*store.ResolvedModel, error) {
	models, err := r.ResolveModels(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, ErrNoAccess
	}
	for _, m := range models {
		if m.Config.ID == modelConfigID {
			return m, nil
		}
	}
	r.logger.Info("model outside resolved set", "user_id", userID, "model_config_id", modelConfigID)
	return nil, ErrModelNotFound
}

// SelectTools intersects the caller's selection with the user's resolved tools.
// Unknown or disallowed IDs are dropped, not rejected. Order follows the resolved set.
func (r *Resolver) SelectTools(ctx context.Context, userID string, selectedIDs []string) ([]*store.Tool, error) {
	if len(selectedIDs) == 0 {
		return []*store.Tool{}, nil
	}

	allowed, err := r.ResolveTools(ctx, userID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		wanted[id] = true
	}

	selected := make([]*store.Tool, 0, len(selectedIDs))
	for _, t := range allowed {
		if wanted[t.ID] {
			selected = append(selected, t)
			delete(wanted, t.ID)
		}
	}
	for id := range wanted {
		r.logger.Debug("dropping tool outside resolved set", "user_id", userID, "tool_id", id)
	}
	return selected, nil
}
