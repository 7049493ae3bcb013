package api

import (
	"encoding/json"
	"net/http"

	"github.com/llmgateway/gateway/internal/domain"
)

// loginRequestDTO accepts an api_key body field in addition to the Bearer
// header path — §6's auth endpoint table lists both.
type loginRequestDTO struct {
	APIKey string `json:"api_key"`
}

type loginResponseDTO struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	Message   string `json:"message"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	secret := bearerTokenFromHeader(r)
	if secret == "" {
		var dto loginRequestDTO
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			writeError(w, domain.ErrBadRequest)
			return
		}
		secret = dto.APIKey
	}
	if secret == "" {
		writeError(w, domain.ErrAuthRequired)
		return
	}

	sess, err := h.authn.Login(ctx, secret, nil)
	if err != nil {
		writeError(w, domain.ErrForbidden)
		return
	}

	writeJSON(w, http.StatusOK, loginResponseDTO{
		Token:     sess.Token,
		ExpiresIn: int64(sess.ExpiresAt.Sub(sess.CreatedAt).Seconds()),
		Message:   "logged in",
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := sessionTokenFromRequest(r)
	if token == "" {
		writeError(w, domain.ErrAuthRequired)
		return
	}
	if err := h.authn.Logout(token); err != nil {
		writeError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

type bindModelRequestDTO struct {
	ProviderName string `json:"provider_name"`
	ModelName    string `json:"model_name"`
}

// handleBindModel validates the target before binding, per spec.md's bind
// invariant: the model must exist in the catalog, and the session's
// credential (if any) must allow it. anonymous-local sessions have no
// credential to check against, so they bind to any model that exists.
func (h *Handler) handleBindModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := sessionTokenFromRequest(r)
	if token == "" {
		writeError(w, domain.ErrAuthRequired)
		return
	}

	var dto bindModelRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil || dto.ProviderName == "" || dto.ModelName == "" {
		writeError(w, domain.ErrBadRequest)
		return
	}

	principal, err := h.authn.PrincipalForSession(token)
	if err != nil {
		writeError(w, domain.ErrAuthRequired)
		return
	}

	if _, err := h.router.Direct(ctx, dto.ProviderName, dto.ModelName); err != nil {
		writeError(w, err)
		return
	}

	if !principal.IsAnonymousLocal() && principal.Credential != nil {
		if !principal.Credential.Allows(dto.ProviderName, dto.ModelName) {
			writeError(w, domain.ErrForbidden)
			return
		}
	}

	if err := h.sessions.Bind(token, domain.ModelRef{ProviderName: dto.ProviderName, ModelName: dto.ModelName}); err != nil {
		writeError(w, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "model bound"})
}

func bearerTokenFromHeader(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// sessionTokenFromRequest mirrors internal/auth's priority order for the
// session-bearing headers; logout and bind-model act on a session, not an
// api_key, so the api_key paths are intentionally excluded here.
func sessionTokenFromRequest(r *http.Request) string {
	if t := bearerTokenFromHeader(r); t != "" {
		return t
	}
	if t := r.Header.Get("X-Session-Token"); t != "" {
		return t
	}
	return r.URL.Query().Get("session_token")
}
