// Package auth carries the session-held identity into request
// context. Establishing the session (signup, login, oauth) is handled
// by a separate service sharing the same session store; this package
// only reads what that service put there.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/ramadhanis/academy/api/web"
	"github.com/ramadhanis/academy/api/weberr"
	"github.com/ramadhanis/academy/core/claims"
)

const (
	userKey = "userID"
	roleKey = "role"
)

// LoadAndSave wraps the scs session middleware into our handler chain.
func LoadAndSave(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			var err error
			sh := session.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				err = handler(r.Context(), w, r)
			}))

			sh.ServeHTTP(w, r)
			return err
		}
		return h
	}
	return m
}

// Authenticate rejects requests whose session carries no user and
// stores the claims in context for downstream handlers.
func Authenticate(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			userID := session.GetString(ctx, userKey)
			if userID == "" {
				return weberr.NotAuthorized(errors.New("no authenticated user in session"))
			}

			clm := claims.Claims{
				UserID: userID,
				Role:   session.GetString(ctx, roleKey),
			}

			ctx = claims.Set(ctx, clm)
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// Instructor allows only instructors and admins through. Must run
// after Authenticate.
func Instructor(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			if !claims.IsInstructor(ctx) {
				return weberr.NotAuthorized(errors.New("instructor role required"))
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// Grant writes an identity into the current session. The auth service
// calls this after verifying credentials; tests use it directly.
func Grant(ctx context.Context, session *scs.SessionManager, userID, role string) {
	session.Put(ctx, userKey, userID)
	session.Put(ctx, roleKey, role)
}
