package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// HMAC-signed session cookie carrying the user id. The middleware resolves
// the id into an Actor (user, company, company kind) via a DB-backed
// resolver set at bootstrap, so handlers never see a bare user id.

type ctxKey string

const (
	sessionCookieName = "session"
	actorCtxKey       = ctxKey("actor")
)

// Actor is the resolved caller identity attached to the request context.
type Actor struct {
	UserID      uint
	CompanyID   uint
	CompanyKind string
}

// ActorResolver turns a session user id into a full Actor. Returning false
// invalidates the session (deleted user, deleted company).
type ActorResolver func(ctx context.Context, uid uint) (Actor, bool)

var resolver ActorResolver

// SetActorResolver configures the global resolver used by the middleware.
func SetActorResolver(r ActorResolver) { resolver = r }

// Secret returns SESSION_SECRET or default dev value.
func Secret() string {
	if s := os.Getenv("SESSION_SECRET"); s != "" {
		return s
	}
	return "devsessionsecret"
}

func sign(uidStr string) string {
	mac := hmac.New(sha256.New, []byte(Secret()))
	mac.Write([]byte(uidStr))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// CreateSession sets a signed cookie with the user id.
func CreateSession(w http.ResponseWriter, userID uint) {
	uidStr := strconv.FormatUint(uint64(userID), 10)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    uidStr + "." + sign(uidStr),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(14 * 24 * time.Hour),
	})
}

// ClearSession deletes the session cookie.
func ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", Expires: time.Unix(0, 0), HttpOnly: true, SameSite: http.SameSiteLaxMode})
}

// ParseSession validates the cookie signature and returns the user id.
func ParseSession(r *http.Request) (uint, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return 0, false
	}
	parts := strings.Split(c.Value, ".")
	if len(parts) != 2 {
		return 0, false
	}
	uidStr, sig := parts[0], parts[1]
	if !hmac.Equal([]byte(sig), []byte(sign(uidStr))) {
		return 0, false
	}
	id64, err := strconv.ParseUint(uidStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id64), true
}

// WithActor stores the actor in context. Exposed for tests.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey, a)
}

// ActorFromContext extracts the resolved actor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	v := ctx.Value(actorCtxKey)
	if v == nil {
		return Actor{}, false
	}
	a, ok := v.(Actor)
	return a, ok
}

// Middleware resolves the session into an Actor and attaches it to the
// request context. Unresolvable sessions are cleared and the request passes
// through anonymous.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid, ok := ParseSession(r); ok {
			if resolver != nil {
				if actor, ok := resolver(r.Context(), uid); ok {
					r = r.WithContext(WithActor(r.Context(), actor))
				} else {
					ClearSession(w)
				}
			} else {
				r = r.WithContext(WithActor(r.Context(), Actor{UserID: uid}))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects anonymous requests with 401 JSON.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorFromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}
