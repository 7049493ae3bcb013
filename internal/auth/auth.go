package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/llmgateway/gateway/internal/crypto"
	"github.com/llmgateway/gateway/internal/domain"
)

// CredentialSource looks up the full active credential set a Login or
// bearer-token request can be validated against. internal/catalog's
// Accessor implements this.
type CredentialSource interface {
	ActiveCredentials(ctx context.Context) ([]domain.Credential, error)
	CredentialByID(ctx context.Context, id string) (domain.Credential, bool)
}

type Authenticator struct {
	credentials CredentialSource
	sessions    *SessionStore
}

func NewAuthenticator(credentials CredentialSource, sessions *SessionStore) *Authenticator {
	return &Authenticator{credentials: credentials, sessions: sessions}
}

// Authenticate resolves an inbound request to a Principal, trying
// credential sources in the fixed priority order, then falling back to
// loopback bypass.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (Principal, error) {
	if token := bearerToken(r); token != "" {
		return a.resolveSession(token)
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return a.resolveAPIKey(ctx, key)
	}
	if token := r.Header.Get("X-Session-Token"); token != "" {
		return a.resolveSession(token)
	}
	if token := r.URL.Query().Get("session_token"); token != "" {
		return a.resolveSession(token)
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return a.resolveAPIKey(ctx, key)
	}

	if isLoopback(r.RemoteAddr) {
		return Principal{Kind: PrincipalAnonymousLocal}, nil
	}
	return Principal{}, ErrAuthRequired
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

func (a *Authenticator) resolveSession(token string) (Principal, error) {
	sess, err := a.sessions.Get(token)
	if err != nil {
		return Principal{}, ErrInvalidCredential
	}
	cred, ok := a.credentials.CredentialByID(context.Background(), sess.CredentialID)
	if !ok || !cred.IsActive {
		return Principal{}, ErrInvalidCredential
	}
	return Principal{Kind: PrincipalCredential, CredentialID: cred.ID, Credential: &cred}, nil
}

// PrincipalForSession resolves the credential bound to an existing session
// token, for handlers (such as bind-model) that act on a session outside
// the normal Authenticate(r) request path.
func (a *Authenticator) PrincipalForSession(token string) (Principal, error) {
	return a.resolveSession(token)
}

func (a *Authenticator) resolveAPIKey(ctx context.Context, secret string) (Principal, error) {
	cred, ok := a.matchCredential(ctx, secret)
	if !ok {
		return Principal{}, ErrInvalidCredential
	}
	return Principal{Kind: PrincipalCredential, CredentialID: cred.ID, Credential: &cred}, nil
}

// matchCredential scans every active credential and compares it against
// secret with subtle.ConstantTimeCompare, never short-circuiting on the
// first length mismatch it finds across the whole set — see
// constantTimeEqual and DESIGN.md Open Question (c).
func (a *Authenticator) matchCredential(ctx context.Context, secret string) (domain.Credential, bool) {
	creds, err := a.credentials.ActiveCredentials(ctx)
	if err != nil {
		return domain.Credential{}, false
	}
	var found domain.Credential
	var matched bool
	for _, c := range creds {
		if constantTimeEqual(c.Secret, secret) {
			found, matched = c, true
		}
	}
	return found, matched
}

// constantTimeEqual reports whether a and b are equal without leaking
// timing information about where they first differ. The length check
// short-circuits on len() alone, which depends only on public sizes, not
// secret content, so it does not weaken the constant-time property the
// content comparison provides.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// isLoopback reports whether remoteAddr's host is 127.0.0.0/8 or ::1. An
// address that fails to parse is treated as non-local: see DESIGN.md Open
// Question (e), a deliberate stricter-than-source deviation.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// Login validates secret against every active credential in constant
// time, mints a session token, and stores it with a 24h TTL.
func (a *Authenticator) Login(ctx context.Context, secret string, bind *domain.ModelRef) (*domain.Session, error) {
	cred, ok := a.matchCredential(ctx, secret)
	if !ok {
		// Log a hash rather than the attempted secret, so the audit trail
		// stays useful (repeated attempts with the same key are visible)
		// without the log becoming a second place credentials leak from.
		slog.Warn("login failed: no active credential matched", "api_key_hash", crypto.HashAPIKey(secret))
		return nil, ErrInvalidCredential
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &domain.Session{
		Token:        token,
		CredentialID: cred.ID,
		State:        domain.SessionIssued,
		CreatedAt:    now,
		ExpiresAt:    now.Add(defaultSessionTTL),
	}
	if bind != nil {
		sess.Bound = bind
		sess.State = domain.SessionBound
	}
	a.sessions.Put(sess)
	return sess, nil
}

func (a *Authenticator) Logout(token string) error {
	return a.sessions.Revoke(token)
}

// newSessionToken mints 128 bits of crypto/rand entropy, hex-encoded.
func newSessionToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
