package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/util"
)

func route(pattern, service string) config.Route {
	return config.Route{Pattern: pattern, Service: service}
}

func TestResolveExactMatch(t *testing.T) {
	r := New()
	r.Register(route("/api/users", "users"))

	got, err := r.Resolve("/api/users")
	require.NoError(t, err)
	assert.Equal(t, "users", got.Service())
}

func TestResolveSingleWildcardMatchesExactlyOneSegment(t *testing.T) {
	r := New()
	r.Register(route("/api/users/*", "users"))

	got, err := r.Resolve("/api/users/42")
	require.NoError(t, err)
	assert.Equal(t, "users", got.Service())

	_, err = r.Resolve("/api/users")
	assert.Error(t, err)

	_, err = r.Resolve("/api/users/42/orders")
	assert.Error(t, err)
}

func TestResolveInteriorWildcard(t *testing.T) {
	r := New()
	r.Register(route("/api/*/orders", "orders"))

	got, err := r.Resolve("/api/42/orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Service())

	_, err = r.Resolve("/api/orders")
	assert.Error(t, err)
}

func TestResolveTrailingWildcardMatchesOneOrMore(t *testing.T) {
	r := New()
	r.Register(route("/static/*", "assets"))

	for _, path := range []string{"/static/app.js", "/static/css/site.css", "/static/a/b/c"} {
		got, err := r.Resolve(path)
		require.NoError(t, err, path)
		assert.Equal(t, "assets", got.Service())
	}

	// The tail must consume at least one segment.
	_, err := r.Resolve("/static")
	assert.Error(t, err)
}

func TestResolvePrefersMostLiteralSegments(t *testing.T) {
	r := New()
	r.Register(route("/api/*", "catchall"))
	r.Register(route("/api/users", "users"))
	r.Register(route("/api/*/orders", "orders"))

	got, err := r.Resolve("/api/users")
	require.NoError(t, err)
	assert.Equal(t, "users", got.Service())

	got, err = r.Resolve("/api/42/orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Service())
}

func TestResolveTieBrokenByRegistrationOrder(t *testing.T) {
	r := New()
	r.Register(route("/api/*/a", "first"))
	r.Register(route("/api/x/*", "second"))

	// Both patterns have two literals; the earlier registration wins.
	got, err := r.Resolve("/api/x/a")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Service())
}

func TestResolveNotFound(t *testing.T) {
	r := New()
	r.Register(route("/api/users", "users"))

	_, err := r.Resolve("/nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrRouteNotFound))
	assert.Equal(t, util.KindRouteNotFound, util.KindOf(err))
}

func TestRegisterReplaceKeepsOrder(t *testing.T) {
	r := New()
	r.Register(route("/api/*/a", "first"))
	r.Register(route("/api/x/*", "second"))

	// Re-registering the first pattern must not demote it in tie-breaking.
	r.Register(route("/api/*/a", "first-v2"))

	got, err := r.Resolve("/api/x/a")
	require.NoError(t, err)
	assert.Equal(t, "first-v2", got.Service())
}

func TestUpdateAndRemove(t *testing.T) {
	r := New()
	r.Register(route("/api/users", "users"))

	assert.True(t, r.Update(route("/api/users", "users-v2")))
	got, err := r.Resolve("/api/users")
	require.NoError(t, err)
	assert.Equal(t, "users-v2", got.Service())

	assert.False(t, r.Update(route("/missing", "x")))

	assert.True(t, r.Remove("/api/users"))
	assert.False(t, r.Remove("/api/users"))
	_, err = r.Resolve("/api/users")
	assert.Error(t, err)
}

func TestRoutesReturnsRegistrationOrder(t *testing.T) {
	r := New()
	r.Register(route("/c", "c"))
	r.Register(route("/a", "a"))
	r.Register(route("/b", "b"))

	routes := r.Routes()
	require.Len(t, routes, 3)
	assert.Equal(t, "/c", routes[0].Pattern)
	assert.Equal(t, "/a", routes[1].Pattern)
	assert.Equal(t, "/b", routes[2].Pattern)
}

func TestReplaceKeepsSurvivingOrder(t *testing.T) {
	r := New()
	r.Register(route("/api/*/a", "first"))
	r.Register(route("/api/x/*", "second"))

	r.Replace([]config.Route{
		route("/api/x/*", "second-v2"),
		route("/api/*/a", "first-v2"),
		route("/new", "new"),
	})

	// "/api/*/a" keeps its original, earlier position.
	got, err := r.Resolve("/api/x/a")
	require.NoError(t, err)
	assert.Equal(t, "first-v2", got.Service())

	got, err = r.Resolve("/new")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Service())
}
