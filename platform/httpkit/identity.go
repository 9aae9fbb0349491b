package httpkit

import (
	"context"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/logger"
)

// ContextActorKey is the gin context key holding the authenticated *Actor.
const ContextActorKey = "actor"

// Actor is the authenticated caller. Its UserID is recorded as the actor of
// stage transitions and overrides.
type Actor struct {
	UserID uuid.UUID
	Roles  []string
}

// HasRole reports whether the actor carries role.
func (a *Actor) HasRole(role string) bool {
	return a != nil && slices.Contains(a.Roles, role)
}

// SetActor stores the actor on the request and tags the request context so
// log lines carry the user id.
func SetActor(c *gin.Context, a *Actor) {
	c.Set(ContextActorKey, a)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.UserIDKey, a.UserID.String()))
}

// ActorFrom returns the authenticated actor, if any.
func ActorFrom(c *gin.Context) (*Actor, bool) {
	v, ok := c.Get(ContextActorKey)
	if !ok {
		return nil, false
	}
	a, ok := v.(*Actor)
	if !ok || a == nil || a.UserID == uuid.Nil {
		return nil, false
	}
	return a, true
}

// MustActor returns the actor or aborts with 401 and returns nil.
func MustActor(c *gin.Context) *Actor {
	a, ok := ActorFrom(c)
	if !ok {
		abortStatus(c, http.StatusUnauthorized, "unauthorized", codeUnauthorized)
		return nil
	}
	return a
}
