// ABOUTME: Admin HTTP handlers for grants and group memberships
// ABOUTME: Every write goes through access.Catalog so cached resolutions are invalidated

package gateway

import (
	"context"
	"net/http"

	"github.com/2389/coven-chat/internal/store"
)

// ModelGrantRequest is the JSON body for /api/admin/grants/models.
type ModelGrantRequest struct {
	GroupID       string `json:"group_id"`
	ModelConfigID string `json:"model_config_id"`
}

// ToolGrantRequest is the JSON body for /api/admin/grants/tools.
type ToolGrantRequest struct {
	GroupID string `json:"group_id"`
	ToolID  string `json:"tool_id"`
}

// MembershipRequest is the JSON body for /api/admin/memberships.
type MembershipRequest struct {
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id"`
	Role    string `json:"role,omitempty"`
}

// applyCatalogWrite runs a catalog write and writes 204 or the mapped error.
func (g *Gateway) applyCatalogWrite(w http.ResponseWriter, write func() error) {
	if err := write(); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleModelGrant(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, groupID, modelConfigID string) error) {
	var req ModelGrantRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if !g.requireFields(w, "group_id", req.GroupID, "model_config_id", req.ModelConfigID) {
		return
	}
	g.applyCatalogWrite(w, func() error { return op(r.Context(), req.GroupID, req.ModelConfigID) })
}

func (g *Gateway) handleToolGrant(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, groupID, toolID string) error) {
	var req ToolGrantRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if !g.requireFields(w, "group_id", req.GroupID, "tool_id", req.ToolID) {
		return
	}
	g.applyCatalogWrite(w, func() error { return op(r.Context(), req.GroupID, req.ToolID) })
}

// handleGrantModel handles POST /api/admin/grants/models.
func (g *Gateway) handleGrantModel(w http.ResponseWriter, r *http.Request) {
	g.handleModelGrant(w, r, g.catalog.GrantModel)
}

// handleRevokeModel handles DELETE /api/admin/grants/models.
func (g *Gateway) handleRevokeModel(w http.ResponseWriter, r *http.Request) {
	g.handleModelGrant(w, r, g.catalog.RevokeModel)
}

// handleGrantTool handles POST /api/admin/grants/tools.
func (g *Gateway) handleGrantTool(w http.ResponseWriter, r *http.Request) {
	g.handleToolGrant(w, r, g.catalog.GrantTool)
}

// handleRevokeTool handles DELETE /api/admin/grants/tools.
func (g *Gateway) handleRevokeTool(w http.ResponseWriter, r *http.Request) {
	g.handleToolGrant(w, r, g.catalog.RevokeTool)
}

// handleAddMembership handles POST /api/admin/memberships. Role defaults to member.
func (g *Gateway) handleAddMembership(w http.ResponseWriter, r *http.Request) {
	var req MembershipRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if !g.requireFields(w, "user_id", req.UserID, "group_id", req.GroupID) {
		return
	}

	role := store.MembershipRole(req.Role)
	switch role {
	case "":
		role = store.MembershipRoleMember
	case store.MembershipRoleMember, store.MembershipRoleAdmin:
	default:
		g.sendJSONError(w, http.StatusBadRequest, "role must be member or admin")
		return
	}

	g.applyCatalogWrite(w, func() error {
		return g.catalog.AddMembership(r.Context(), req.UserID, req.GroupID, role)
	})
}

// handleRemoveMembership handles DELETE /api/admin/memberships.
func (g *Gateway) handleRemoveMembership(w http.ResponseWriter, r *http.Request) {
	var req MembershipRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}
	if !g.requireFields(w, "user_id", req.UserID, "group_id", req.GroupID) {
		return
	}
	g.applyCatalogWrite(w, func() error {
		return g.catalog.RemoveMembership(r.Context(), req.UserID, req.GroupID)
	})
}

// requireFields takes name/value pairs and writes 400 for the first empty value.
func (g *Gateway) requireFields(w http.ResponseWriter, pairs ...string) bool {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			g.sendJSONError(w, http.StatusBadRequest, pairs[i]+" is required")
			return false
		}
	}
	return true
}
