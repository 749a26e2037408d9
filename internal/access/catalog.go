// ABOUTME: Catalog write service that keeps the resolver cache coherent
// ABOUTME: Every write that can change visibility invalidates the cache after the store call succeeds

package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/coven-chat/internal/cache"
	"github.com/2389/coven-chat/internal/store"
)

// CatalogStore is the write surface wrapped by Catalog.
type CatalogStore interface {
	CreateGroup(ctx context.Context, group *store.Group) error
	CreateProvider(ctx context.Context, provider *store.Provider) error
	CreateModelConfig(ctx context.Context, model *store.ModelConfig) error
	SetCredential(ctx context.Context, modelConfigID string, key store.CredentialKey, value string) error
	SetSetting(ctx context.Context, modelConfigID, key string, value json.RawMessage) error
	CreateTool(ctx context.Context, tool *store.Tool) error
	GrantModel(ctx context.Context, groupID, modelConfigID string) error
	RevokeModel(ctx context.Context, groupID, modelConfigID string) error
	GrantTool(ctx context.Context, groupID, toolID string) error
	RevokeTool(ctx context.Context, groupID, toolID string) error
	AddMembership(ctx context.Context, userID, groupID string, role store.MembershipRole) error
	RemoveMembership(ctx context.Context, userID, groupID string) error
	SetUserAdmin(ctx context.Context, id string, isAdmin bool) error
	DeleteUser(ctx context.Context, id string) error
	DeleteGroup(ctx context.Context, id string) error
	DeleteProvider(ctx context.Context, id string) error
	DeleteModelConfig(ctx context.Context, id string) error
	DeleteTool(ctx context.Context, id string) error
}

// Catalog applies visibility-changing writes and invalidates cached resolutions.
type Catalog struct {
	store  CatalogStore
	cache  *cache.Cache
	logger *slog.Logger
}

// NewCatalog creates a catalog write service. A nil cache is allowed.
func NewCatalog(s CatalogStore, c *cache.Cache, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		store:  s,
		cache:  c,
		logger: logger.With("component", "access.catalog"),
	}
}

// apply runs a store write and purges the cache if it succeeded.
// Grants fan out across users through groups, so the whole cache goes.
func (c *Catalog) apply(op string, err error, attrs ...any) error {
	if err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.Purge()
	}
	c.logger.Info(op, attrs...)
	return nil
}

// applyForUser is apply for writes that only change one user's view.
func (c *Catalog) applyForUser(op, userID string, err error, attrs ...any) error {
	if err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.Invalidate(modelsKey(userID))
		c.cache.Invalidate(toolsKey(userID))
	}
	c.logger.Info(op, append([]any{"user_id", userID}, attrs...)...)
	return nil
}

func (c *Catalog) CreateGroup(ctx context.Context, group *store.Group) error {
	return c.apply("created group", c.store.CreateGroup(ctx, group), "group_id", group.ID)
}

func (c *Catalog) CreateProvider(ctx context.Context, provider *store.Provider) error {
	return c.apply("created provider", c.store.CreateProvider(ctx, provider),
		"provider_id", provider.ID, "family", provider.Family)
}

// CreateModel inserts a model config with its credentials and settings.
// If any credential or setting is rejected the model config is removed again.
func (c *Catalog) CreateModel(ctx context.Context, model *store.ModelConfig, credentials []store.Credential, settings []store.Setting) error {
	if err := c.store.CreateModelConfig(ctx, model); err != nil {
		return err
	}

	err := func() error {
		for _, cred := range credentials {
			if err := c.store.SetCredential(ctx, model.ID, cred.Key, cred.Value); err != nil {
				return fmt.Errorf("credential %s: %w", cred.Key, err)
			}
		}
		for _, setting := range settings {
			if err := c.store.SetSetting(ctx, model.ID, setting.Key, setting.Value); err != nil {
				return fmt.Errorf("setting %s: %w", setting.Key, err)
			}
		}
		return nil
	}()
	if err != nil {
		if rbErr := c.store.DeleteModelConfig(ctx, model.ID); rbErr != nil && !errors.Is(rbErr, store.ErrNotFound) {
			c.logger.Error("failed to roll back model config", "model_config_id", model.ID, "error", rbErr)
		}
		return err
	}

	return c.apply("created model config", nil,
		"model_config_id", model.ID, "provider_id", model.ProviderID, "credentials", len(credentials))
}

// SetCredential replaces one credential. Cached resolutions carry credentials, so they go too.
func (c *Catalog) SetCredential(ctx context.Context, modelConfigID string, key store.CredentialKey, value string) error {
	return c.apply("set credential", c.store.SetCredential(ctx, modelConfigID, key, value),
		"model_config_id", modelConfigID, "key", key)
}

func (c *Catalog) SetSetting(ctx context.Context, modelConfigID, key string, value json.RawMessage) error {
	return c.apply("set setting", c.store.SetSetting(ctx, modelConfigID, key, value),
		"model_config_id", modelConfigID, "key", key)
}

func (c *Catalog) CreateTool(ctx context.Context, tool *store.Tool) error {
	return c.apply("created tool", c.store.CreateTool(ctx, tool), "tool_id", tool.ID, "name", tool.Name)
}

func (c *Catalog) GrantModel(ctx context.Context, groupID, modelConfigID string) error {
	return c.apply("granted model", c.store.GrantModel(ctx, groupID, modelConfigID),
		"group_id", groupID, "model_config_id", modelConfigID)
}

func (c *Catalog) RevokeModel(ctx context.Context, groupID, modelConfigID string) error {
	return c.apply("revoked model", c.store.RevokeModel(ctx, groupID, modelConfigID),
		"group_id", groupID, "model_config_id", modelConfigID)
}

func (c *Catalog) GrantTool(ctx context.Context, groupID, toolID string) error {
	return c.apply("granted tool", c.store.GrantTool(ctx, groupID, toolID),
		"group_id", groupID, "tool_id", toolID)
}

func (c *Catalog) RevokeTool(ctx context.Context, groupID, toolID string) error {
	return c.apply("revoked tool", c.store.RevokeTool(ctx, groupID, toolID),
		"group_id", groupID, "tool_id", toolID)
}

func (c *Catalog) AddMembership(ctx context.Context, userID, groupID string, role store.MembershipRole) error {
	return c.applyForUser("added membership", userID, c.store.AddMembership(ctx, userID, groupID, role),
		"group_id", groupID, "role", role)
}

func (c *Catalog) RemoveMembership(ctx context.Context, userID, groupID string) error {
	return c.applyForUser("removed membership", userID, c.store.RemoveMembership(ctx, userID, groupID),
		"group_id", groupID)
}

func (c *Catalog) SetUserAdmin(ctx context.Context, userID string, isAdmin bool) error {
	return c.applyForUser("set admin flag", userID, c.store.SetUserAdmin(ctx, userID, isAdmin),
		"admin", isAdmin)
}

func (c *Catalog) DeleteUser(ctx context.Context, id string) error {
	return c.applyForUser("deleted user", id, c.store.DeleteUser(ctx, id))
}

func (c *Catalog) DeleteGroup(ctx context.Context, id string) error {
	return c.apply("deleted group", c.store.DeleteGroup(ctx, id), "group_id", id)
}

func (c *Catalog) DeleteProvider(ctx context.Context, id string) error {
	return c.apply("deleted provider", c.store.DeleteProvider(ctx, id), "provider_id", id)
}

func (c *Catalog) DeleteModelConfig(ctx context.Context, id string) error {
	return c.apply("deleted model config", c.store.DeleteModelConfig(ctx, id), "model_config_id", id)
}

func (c *Catalog) DeleteTool(ctx context.Context, id string) error {
	return c.apply("deleted tool", c.store.DeleteTool(ctx, id), "tool_id", id)
}
