package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/warden/internal/shared"
)

func serveThrough(t *testing.T, mw func(http.Handler) http.Handler, actorID int64) int {
	t.Helper()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if actorID != 0 {
		req = req.WithContext(shared.ContextWithActor(context.Background(), actorID))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAnyAndAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	usersView := f.permission(t, "users.view")
	rolesView := f.permission(t, "roles.view")
	viewer := f.role(t, "viewer", nil, usersView.ID)
	auditor := f.role(t, "auditor", nil, usersView.ID, rolesView.ID)

	viewerUser, err := f.users.Create(ctx, "viewer@example.com", "Viewer", "password123")
	require.NoError(t, err)
	require.NoError(t, f.users.AssignRole(ctx, viewerUser.ID, viewer.ID))
	auditorUser, err := f.users.Create(ctx, "auditor@example.com", "Auditor", "password123")
	require.NoError(t, err)
	require.NoError(t, f.users.AssignRole(ctx, auditorUser.ID, auditor.ID))

	mw := Middleware{Resolver: f.resolver}

	require.Equal(t, http.StatusNoContent,
		serveThrough(t, mw.RequireAny("users.view", "roles.view"), viewerUser.ID))
	require.Equal(t, http.StatusForbidden,
		serveThrough(t, mw.RequireAny("roles.view"), viewerUser.ID))

	// RequireAll needs the full set, not just one of it.
	require.Equal(t, http.StatusForbidden,
		serveThrough(t, mw.RequireAll("users.view", "roles.view"), viewerUser.ID))
	require.Equal(t, http.StatusNoContent,
		serveThrough(t, mw.RequireAll("users.view", "roles.view"), auditorUser.ID))

	// No actor in context is always forbidden.
	require.Equal(t, http.StatusForbidden,
		serveThrough(t, mw.RequireAll("users.view"), 0))
}
