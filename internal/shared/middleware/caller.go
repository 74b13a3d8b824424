// Package middleware holds the HTTP middleware shared by the API server.
package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const callerKey contextKey = "caller"

// WithCaller stores the authenticated caller id in ctx.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerKey, callerID)
}

// CallerID returns the id stored by Authenticate, or "" for anonymous requests.
func CallerID(r *http.Request) string {
	if v, ok := r.Context().Value(callerKey).(string); ok {
		return v
	}
	return ""
}

// Deny writes a rejection. kind is a stable machine-readable failure name.
type Deny func(w http.ResponseWriter, r *http.Request, status int, kind, message string)
