package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/college-resources/internal/apperror"
	"github.com/sakif/college-resources/internal/model"
)

// contextKey is package-private so no other package can read or shadow the
// identity stored in a request context.
type contextKey string

const identityKey contextKey = "identity"

// CookieName is the HttpOnly cookie the browser app carries the token in.
const CookieName = "token"

var errNoToken = errors.New("auth: no token presented")

// RequireAuth rejects requests without a valid token with 401 and stores the
// caller's Identity in the context for the rest.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp.
// Returning without calling next stops the chain here.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := extractIdentity(r, tokens)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// UserLookup is the part of the user store RequireAdmin needs.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// RequireAdmin must run after RequireAuth. It answers 403 unless the caller
// is an active admin right now. The role claim in the token is not trusted
// here: a demotion or deactivation takes effect on the next request instead
// of when the token expires.
func RequireAdmin(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			user, err := users.GetByID(r.Context(), id.UserID)
			switch {
			case errors.Is(err, apperror.ErrNotFound):
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			case err != nil:
				writeJSONError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred")
				return
			case !user.IsAdmin() || user.Status != model.StatusActive:
				writeJSONError(w, http.StatusForbidden, "forbidden", "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OptionalAuth attaches the identity when a valid token is present and lets
// anonymous requests through untouched.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := extractIdentity(r, tokens); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity returns a copy of ctx carrying id. Exported for handler tests.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated caller, or false for an
// anonymous request.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

// UserIDFromContext is a shorthand for IdentityFromContext(ctx).UserID.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.UserID, ok
}

// extractIdentity prefers the Authorization header and falls back to the
// cookie. A present but invalid header does not fall back.
func extractIdentity(r *http.Request, tokens *TokenService) (Identity, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return Identity{}, errNoToken
		}
		return tokens.Validate(strings.TrimSpace(token))
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Identity{}, errNoToken
	}
	return tokens.Validate(cookie.Value)
}

// writeJSONError matches the handler package's error body. It lives here
// because middleware runs before any handler and can't import it.
func writeJSONError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + errType + `","message":"` + message + `"}`))
}
