// ABOUTME: Admin HTTP handlers that create and delete catalog entries
// ABOUTME: Groups, providers, model configs, tools and user admin flags, all written through access.Catalog

package gateway

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/toolserver"
)

// GroupRequest is the JSON body for POST /api/admin/groups.
type GroupRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GroupResponse is a group as returned by the admin API.
type GroupResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProviderRequest is the JSON body for POST /api/admin/providers.
type ProviderRequest struct {
	ID            string            `json:"id,omitempty"`
	Name          string            `json:"name"`
	Family        string            `json:"family"`
	BaseURL       string            `json:"base_url,omitempty"`
	Configuration map[string]string `json:"configuration,omitempty"`
}

// ProviderResponse is a provider as returned by the admin API.
type ProviderResponse struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Family        string            `json:"family"`
	BaseURL       string            `json:"base_url,omitempty"`
	Configuration map[string]string `json:"configuration,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ModelRequest is the JSON body for POST /api/admin/models.
// Credential values are write-only; no admin endpoint returns them.
type ModelRequest struct {
	ID             string                     `json:"id,omitempty"`
	ProviderID     string                     `json:"provider_id"`
	Model          string                     `json:"model"`
	Name           string                     `json:"name"`
	Description    string                     `json:"description,omitempty"`
	SupportsTools  bool                       `json:"supports_tools"`
	SupportsImages bool                       `json:"supports_images"`
	Credentials    map[string]string          `json:"credentials,omitempty"`
	Settings       map[string]json.RawMessage `json:"settings,omitempty"`
}

// ModelResponse is a model config as returned by the admin API.
type ModelResponse struct {
	ID             string    `json:"id"`
	ProviderID     string    `json:"provider_id"`
	Model          string    `json:"model"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	SupportsTools  bool      `json:"supports_tools"`
	SupportsImages bool      `json:"supports_images"`
	CreatedAt      time.Time `json:"created_at"`
}

// CredentialRequest is the JSON body for PUT /api/admin/models/{id}/credentials.
type CredentialRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SettingRequest is the JSON body for PUT /api/admin/models/{id}/settings.
type SettingRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// CatalogToolRequest is the JSON body for POST /api/admin/tools.
type CatalogToolRequest struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Configuration json.RawMessage `json:"configuration"`
}

// UserResponse is a user as returned by the admin API. The password hash is never included.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// AdminFlagRequest is the JSON body for PUT /api/admin/users/{id}/admin.
type AdminFlagRequest struct {
	IsAdmin *bool `json:"is_admin"`
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

// decodeJSON decodes the request body into v and writes 400 on failure.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleListGroups handles GET /api/admin/groups.
func (g *Gateway) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := g.store.ListGroups(r.Context())
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	resp := make([]GroupResponse, 0, len(groups))
	for _, grp := range groups {
		resp = append(resp, GroupResponse{ID: grp.ID, Name: grp.Name, Description: grp.Description, CreatedAt: grp.CreatedAt})
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleCreateGroup handles POST /api/admin/groups.
func (g *Gateway) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if !g.decodeJSON(w, r, &req) || !g.requireFields(w, "name", req.Name) {
		return
	}

	grp := &store.Group{ID: orNewID(req.ID), Name: req.Name, Description: req.Description}
	if err := g.catalog.CreateGroup(r.Context(), grp); err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, GroupResponse{ID: grp.ID, Name: grp.Name, Description: grp.Description, CreatedAt: grp.CreatedAt})
}

// handleDeleteGroup handles DELETE /api/admin/groups/{id}.
func (g *Gateway) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	g.applyCatalogWrite(w, func() error { return g.catalog.DeleteGroup(r.Context(), r.PathValue("id")) })
}

// handleListProviders handles GET /api/admin/providers.
func (g *Gateway) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := g.store.ListProviders(r.Context())
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	resp := make([]ProviderResponse, 0, len(providers))
	for _, p := range providers {
		resp = append(resp, providerResponse(p))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func providerResponse(p *store.Provider) ProviderResponse {
	return ProviderResponse{
		ID:            p.ID,
		Name:          p.Name,
		Family:        p.Family,
		BaseURL:       p.BaseURL,
		Configuration: p.Configuration,
		CreatedAt:     p.CreatedAt,
	}
}

// handleCreateProvider handles POST /api/admin/providers. Unknown families are
// accepted; their models are served by the fallback client.
func (g *Gateway) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req ProviderRequest
	if !g.decodeJSON(w, r, &req) || !g.requireFields(w, "name", req.Name, "family", req.Family) {
		return
	}

	p := &store.Provider{
		ID:            orNewID(req.ID),
		Name:          req.Name,
		Family:        req.Family,
		BaseURL:       req.BaseURL,
		Configuration: req.Configuration,
	}
	if err := g.catalog.CreateProvider(r.Context(), p); err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, providerResponse(p))
}

// handleDeleteProvider handles DELETE /api/admin/providers/{id}. Its model configs go with it.
func (g *Gateway) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	g.applyCatalogWrite(w, func() error { return g.catalog.DeleteProvider(r.Context(), r.PathValue("id")) })
}

// handleCreateModel handles POST /api/admin/models.
func (g *Gateway) handleCreateModel(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest
	if !g.decodeJSON(w, r, &req) ||
		!g.requireFields(w, "provider_id", req.ProviderID, "model", req.Model, "name", req.Name) {
		return
	}

	credentials := make([]store.Credential, 0, len(req.Credentials))
	for key, value := range req.Credentials {
		k := store.CredentialKey(key)
		if !k.Valid() {
			g.sendJSONError(w, http.StatusBadRequest, "unknown credential key: "+key)
			return
		}
		credentials = append(credentials, store.Credential{Key: k, Value: value})
	}
	sort.Slice(credentials, func(i, j int) bool { return credentials[i].Key < credentials[j].Key })

	settings := make([]store.Setting, 0, len(req.Settings))
	for key, value := range req.Settings {
		if !json.Valid(value) {
			g.sendJSONError(w, http.StatusBadRequest, "setting "+key+" is not valid JSON")
			return
		}
		settings = append(settings, store.Setting{Key: key, Value: value})
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })

	m := &store.ModelConfig{
		ID:             orNewID(req.ID),
		ProviderID:     req.ProviderID,
		Model:          req.Model,
		Name:           req.Name,
		Description:    req.Description,
		SupportsTools:  req.SupportsTools,
		SupportsImages: req.SupportsImages,
	}
	if err := g.catalog.CreateModel(r.Context(), m, credentials, settings); err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, ModelResponse{
		ID:             m.ID,
		ProviderID:     m.ProviderID,
		Model:          m.Model,
		Name:           m.Name,
		Description:    m.Description,
		SupportsTools:  m.SupportsTools,
		SupportsImages: m.SupportsImages,
		CreatedAt:      m.CreatedAt,
	})
}

// handleDeleteModel handles DELETE /api/admin/models/{id}.
func (g *Gateway) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	g.applyCatalogWrite(w, func() error { return g.catalog.DeleteModelConfig(r.Context(), r.PathValue("id")) })
}

// handleSetCredential handles PUT /api/admin/models/{id}/credentials.
func (g *Gateway) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if !g.decodeJSON(w, r, &req) || !g.requireFields(w, "key", req.Key, "value", req.Value) {
		return
	}
	g.applyCatalogWrite(w, func() error {
		return g.catalog.SetCredential(r.Context(), r.PathValue("id"), store.CredentialKey(req.Key), req.Value)
	})
}

// handleSetSetting handles PUT /api/admin/models/{id}/settings.
func (g *Gateway) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if !g.decodeJSON(w, r, &req) || !g.requireFields(w, "key", req.Key) {
		return
	}
	if len(req.Value) == 0 || !json.Valid(req.Value) {
		g.sendJSONError(w, http.StatusBadRequest, "value must be JSON")
		return
	}
	g.applyCatalogWrite(w, func() error {
		return g.catalog.SetSetting(r.Context(), r.PathValue("id"), req.Key, req.Value)
	})
}

// handleCreateTool handles POST /api/admin/tools. The configuration must
// describe at least one launchable server.
func (g *Gateway) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	var req CatalogToolRequest
	if !g.decodeJSON(w, r, &req) || !g.requireFields(w, "name", req.Name) {
		return
	}
	if _, err := toolserver.ParseConfiguration(req.Configuration, req.Name); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	tool := &store.Tool{
		ID:            orNewID(req.ID),
		Name:          req.Name,
		Description:   req.Description,
		Configuration: req.Configuration,
	}
	if err := g.catalog.CreateTool(r.Context(), tool); err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, ToolResponse{ID: tool.ID, Name: tool.Name, Description: tool.Description})
}

// handleDeleteTool handles DELETE /api/admin/tools/{id}.
func (g *Gateway) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	g.applyCatalogWrite(w, func() error { return g.catalog.DeleteTool(r.Context(), r.PathValue("id")) })
}

// handleListUsers handles GET /api/admin/users.
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := g.store.ListUsers(r.Context())
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, UserResponse{ID: u.ID, Email: u.Email, Name: u.Name, IsAdmin: u.IsAdmin, CreatedAt: u.CreatedAt})
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleSetUserAdmin handles PUT /api/admin/users/{id}/admin.
func (g *Gateway) handleSetUserAdmin(w http.ResponseWriter, r *http.Request) {
	var req AdminFlagRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if req.IsAdmin == nil {
		g.sendJSONError(w, http.StatusBadRequest, "is_admin is required")
		return
	}
	g.applyCatalogWrite(w, func() error {
		return g.catalog.SetUserAdmin(r.Context(), r.PathValue("id"), *req.IsAdmin)
	})
}

// handleDeleteUser handles DELETE /api/admin/users/{id}. Admins cannot delete themselves.
func (g *Gateway) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if auth.MustFromContext(r.Context()).UserID == id {
		g.sendJSONError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}
	g.applyCatalogWrite(w, func() error { return g.catalog.DeleteUser(r.Context(), id) })
}
