// AdminHandler is the management plane: operators trigger a catalog
// refresh, read recorded invocations, and manage their own accounts. It is
// deliberately not provider/model/credential CRUD — the catalog Store is
// an external collaborator (spec.md §4.A), configured by whatever system
// owns it, not by this gateway. Grounded on the teacher's
// internal/api/admin.go tenant-CRUD ServeMux shape; the tenant resource is
// replaced with the catalog-refresh/invocations/admin-user surface that
// has an actual counterpart in this domain.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/llmgateway/gateway/internal/admin"
	"github.com/llmgateway/gateway/internal/catalog"
	"github.com/llmgateway/gateway/internal/domain"
)

// InvocationReader is implemented by recorder stores that can be read
// back, for the admin invocations endpoint. PostgresObservabilityStore
// does not implement this — operators query the database directly in
// production; InMemoryStore does, for local development and tests.
type InvocationReader interface {
	All() []domain.InvocationRecord
}

type AdminHandler struct {
	catalog     *catalog.Accessor
	invocations InvocationReader
	users       admin.UserRepository
	mw          *admin.Middleware
	mux         *http.ServeMux
}

func NewAdminHandler(cat *catalog.Accessor, invocations InvocationReader, users admin.UserRepository) *AdminHandler {
	authn := admin.NewAuthenticator(users)
	h := &AdminHandler{
		catalog:     cat,
		invocations: invocations,
		users:       users,
		mw:          admin.NewMiddleware(authn),
		mux:         http.NewServeMux(),
	}

	h.mux.Handle("POST /admin/catalog/refresh", h.mw.RequireAuth(h.mw.RequirePermission(admin.PermissionCatalogWrite)(http.HandlerFunc(h.refreshCatalog))))
	h.mux.Handle("GET /admin/invocations", h.mw.RequireAuth(h.mw.RequirePermission(admin.PermissionInvocationsRead)(http.HandlerFunc(h.listInvocations))))
	h.mux.Handle("GET /admin/users", h.mw.RequireAuth(h.mw.RequirePermission(admin.PermissionAdminUsersManage)(http.HandlerFunc(h.listUsers))))
	h.mux.Handle("POST /admin/users", h.mw.RequireAuth(h.mw.RequirePermission(admin.PermissionAdminUsersManage)(http.HandlerFunc(h.createUser))))

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) refreshCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Refresh(r.Context()); err != nil {
		slog.Error("admin: catalog refresh failed", "error", err)
		writeAdminError(w, http.StatusInternalServerError, "catalog refresh failed")
		return
	}
	writeAdminJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (h *AdminHandler) listInvocations(w http.ResponseWriter, r *http.Request) {
	if h.invocations == nil {
		writeAdminJSON(w, http.StatusOK, map[string]interface{}{"invocations": []domain.InvocationRecord{}, "count": 0})
		return
	}
	records := h.invocations.All()
	writeAdminJSON(w, http.StatusOK, map[string]interface{}{
		"invocations": records,
		"count":       len(records),
	})
}

func (h *AdminHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	users, err := h.users.List(ctx)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	sanitized := make([]map[string]interface{}, 0, len(users))
	for _, u := range users {
		sanitized = append(sanitized, map[string]interface{}{
			"id": u.ID, "username": u.Username, "role": u.Role, "enabled": u.Enabled,
		})
	}
	writeAdminJSON(w, http.StatusOK, map[string]interface{}{"users": sanitized})
}

type createUserRequestDTO struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	Role     admin.Role `json:"role"`
}

func (h *AdminHandler) createUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var dto createUserRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil || dto.Username == "" || dto.Password == "" {
		writeAdminError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	hash, err := admin.HashPassword(dto.Password)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	role := dto.Role
	if role == "" {
		role = admin.RoleViewer
	}

	user := &admin.User{
		ID:           dto.Username,
		Username:     dto.Username,
		PasswordHash: hash,
		Role:         role,
		Enabled:      true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := h.users.Create(ctx, user); err != nil {
		slog.Error("admin: failed to create user", "error", err)
		writeAdminError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	slog.Info("admin user created", "username", user.Username, "role", user.Role)
	writeAdminJSON(w, http.StatusCreated, map[string]string{"username": user.Username})
}

func writeAdminJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	writeAdminJSON(w, status, map[string]interface{}{"error": message})
}
