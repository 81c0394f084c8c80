package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting principal id in context. The engine
// itself always takes the actor as an explicit argument; the context carrier
// exists for the HTTP layer.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the acting principal id from context.
func ActorFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorContextKey{}).(int64)
	return id, ok
}
