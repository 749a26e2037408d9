// ABOUTME: Store interfaces and data types for coven-chat persistence
// ABOUTME: Defines catalog entities (users, groups, providers, models, tools) and chat turns

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with a unique constraint
var ErrDuplicate = errors.New("already exists")

// ErrInvalidCredentialKey is returned when a credential key is outside the known set
var ErrInvalidCredentialKey = errors.New("invalid credential key")

// User is an identity that can chat. IsAdmin bypasses group grants.
type User struct {
	ID           string
	Email        string
	Name         string
	IsAdmin      bool
	PasswordHash string
	CreatedAt    time.Time
}

// Group is a named collection of users that receives grants
type Group struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// MembershipRole is the role a user holds inside a group
type MembershipRole string

const (
	MembershipRoleMember MembershipRole = "member"
	MembershipRoleAdmin  MembershipRole = "admin"
)

// Membership links a user to a group
type Membership struct {
	UserID    string
	GroupID   string
	Role      MembershipRole
	CreatedAt time.Time
}

// Provider is a backend family definition shared by many model configs.
// Family is stored as free text so rows written by older versions still load;
// interpretation happens in the provider package.
type Provider struct {
	ID            string
	Name          string
	Family        string
	BaseURL       string
	Configuration map[string]string // non-secret settings
	CreatedAt     time.Time
}

// ModelConfig is a concrete model offering backed by one provider
type ModelConfig struct {
	ID             string
	ProviderID     string
	Model          string // identifier understood by the provider
	Name           string
	Description    string
	SupportsTools  bool
	SupportsImages bool
	CreatedAt      time.Time
}

// CredentialKey names a secret attached to a model config
type CredentialKey string

const (
	CredentialAPIKey            CredentialKey = "apiKey"
	CredentialAccessKeyID       CredentialKey = "accessKeyId"
	CredentialSecretAccessKey   CredentialKey = "secretAccessKey"
	CredentialRegion            CredentialKey = "region"
	CredentialProjectID         CredentialKey = "projectId"
	CredentialServiceAccountKey CredentialKey = "serviceAccountKey"
)

// ValidCredentialKeys lists all valid credential keys
var ValidCredentialKeys = []CredentialKey{
	CredentialAPIKey,
	CredentialAccessKeyID,
	CredentialSecretAccessKey,
	CredentialRegion,
	CredentialProjectID,
	CredentialServiceAccountKey,
}

// Valid reports whether k is one of ValidCredentialKeys
func (k CredentialKey) Valid() bool {
	for _, v := range ValidCredentialKeys {
		if k == v {
			return true
		}
	}
	return false
}

// Credential is a typed secret scoped to a model config
type Credential struct {
	Key   CredentialKey
	Value string
}

// Setting is an opaque provider-specific knob; Value is JSON
type Setting struct {
	Key   string
	Value json.RawMessage
}

// ResolvedModel is a model config joined with everything needed to build a client
type ResolvedModel struct {
	Config      ModelConfig
	Provider    Provider
	Credentials []Credential
	Settings    []Setting
}

// Tool is a catalog entry describing one or more tool servers.
// Configuration is JSON: a single server spec or {"mcpServers": {...}}.
type Tool struct {
	ID            string
	Name          string
	Description   string
	Configuration json.RawMessage
	CreatedAt     time.Time
}

// Chat is a conversation owned by one user
type Chat struct {
	ID            string
	UserID        string
	Title         string
	ModelConfigID string
	CreatedAt     time.Time
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one immutable turn. Content is JSON owned by the conversation layer.
type Message struct {
	ID        string
	ChatID    string
	Role      string
	Content   json.RawMessage
	CreatedAt time.Time
}

// UserStore reads and writes users
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	SetUserAdmin(ctx context.Context, id string, isAdmin bool) error
	DeleteUser(ctx context.Context, id string) error
}

// GroupStore reads and writes groups and memberships
type GroupStore interface {
	CreateGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	DeleteGroup(ctx context.Context, id string) error
	AddMembership(ctx context.Context, userID, groupID string, role MembershipRole) error
	RemoveMembership(ctx context.Context, userID, groupID string) error
	ListUserGroupIDs(ctx context.Context, userID string) ([]string, error)
}

// CatalogStore reads and writes providers, model configs, tools and grant edges
type CatalogStore interface {
	CreateProvider(ctx context.Context, provider *Provider) error
	GetProvider(ctx context.Context, id string) (*Provider, error)
	ListProviders(ctx context.Context) ([]*Provider, error)
	DeleteProvider(ctx context.Context, id string) error

	CreateModelConfig(ctx context.Context, model *ModelConfig) error
	GetModelConfig(ctx context.Context, id string) (*ModelConfig, error)
	DeleteModelConfig(ctx context.Context, id string) error
	SetCredential(ctx context.Context, modelConfigID string, key CredentialKey, value string) error
	SetSetting(ctx context.Context, modelConfigID, key string, value json.RawMessage) error

	CreateTool(ctx context.Context, tool *Tool) error
	GetTool(ctx context.Context, id string) (*Tool, error)
	ListTools(ctx context.Context) ([]*Tool, error)
	DeleteTool(ctx context.Context, id string) error

	GrantModel(ctx context.Context, groupID, modelConfigID string) error
	RevokeModel(ctx context.Context, groupID, modelConfigID string) error
	GrantTool(ctx context.Context, groupID, toolID string) error
	RevokeTool(ctx context.Context, groupID, toolID string) error

	ListResolvedModels(ctx context.Context) ([]*ResolvedModel, error)
	ListResolvedModelsForGroups(ctx context.Context, groupIDs []string) ([]*ResolvedModel, error)
	ListToolsForGroups(ctx context.Context, groupIDs []string) ([]*Tool, error)
}

// ChatStore persists chats and their append-only turns
type ChatStore interface {
	CreateChat(ctx context.Context, chat *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	ListChatsByUser(ctx context.Context, userID string) ([]*Chat, error)
	DeleteChat(ctx context.Context, id string) error
	SaveMessages(ctx context.Context, messages []*Message) error
	GetMessagesByChatID(ctx context.Context, chatID string) ([]*Message, error)
	DeleteMessagesAfter(ctx context.Context, chatID string, ts time.Time) error
}

// Store is the full persistence surface implemented by SQLiteStore
type Store interface {
	UserStore
	GroupStore
	CatalogStore
	ChatStore
	Ping(ctx context.Context) error
	Close() error
}
