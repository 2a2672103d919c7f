package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty becomes root", in: "", want: "/"},
		{name: "root unchanged", in: "/", want: "/"},
		{name: "missing leading slash", in: "api/users", want: "/api/users"},
		{name: "trailing slash stripped", in: "/api/users/", want: "/api/users"},
		{name: "multiple trailing slashes", in: "/api/users///", want: "/api/users"},
		{name: "already normalized", in: "/api/users", want: "/api/users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.in))
		})
	}
}

func TestNormalizePathIdempotent(t *testing.T) {
	inputs := []string{"", "/", "api/users/", "/a/b/c///", "/x"}
	for _, in := range inputs {
		once := NormalizePath(in)
		assert.Equal(t, once, NormalizePath(once), "normalizing %q twice must be stable", in)
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "single param", in: "a=1", want: "a=1"},
		{name: "keys sorted", in: "b=2&a=1", want: "a=1&b=2"},
		{name: "values sorted within key", in: "a=2&a=1", want: "a=1&a=2"},
		{name: "mixed order equivalence", in: "c=3&a=1&b=2", want: "a=1&b=2&c=3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeQuery(tt.in))
		})
	}
}

func TestRequestKeyEquivalence(t *testing.T) {
	// Parameter order must not produce distinct keys.
	a := RequestKey("get", "/cars/", "color=red&year=2020")
	b := RequestKey("GET", "/cars", "year=2020&color=red")
	assert.Equal(t, a, b)
	assert.Equal(t, "GET /cars?color=red&year=2020", a)
}

func TestRequestKeyWithoutQuery(t *testing.T) {
	assert.Equal(t, "DELETE /cars/7", RequestKey("delete", "cars/7", ""))
}

func TestFamilyKey(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   string
	}{
		{name: "numeric id collapses", method: "GET", path: "/cars/1", want: "GET /cars/{}"},
		{name: "different ids share family", method: "GET", path: "/cars/42", want: "GET /cars/{}"},
		{name: "uuid collapses", method: "GET", path: "/cars/a2f1f3f4-9f6f-4d27-9c2b-93f4f3a1b2c3", want: "GET /cars/{}"},
		{name: "long hex collapses", method: "GET", path: "/sessions/deadbeefdeadbeef", want: "GET /sessions/{}"},
		{name: "words stay", method: "GET", path: "/cars/red", want: "GET /cars/red"},
		{name: "short hex stays", method: "GET", path: "/cars/abc", want: "GET /cars/abc"},
		{name: "root", method: "get", path: "/", want: "GET /"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FamilyKey(tt.method, tt.path))
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "SELECT * FROM users", CollapseWhitespace("  SELECT \n\t * FROM   users  "))
	assert.Equal(t, "", CollapseWhitespace("   \n "))
}

func TestQueryFingerprint(t *testing.T) {
	base := QueryFingerprint(5432, "SELECT * FROM users WHERE id = $1", []string{"1"})

	t.Run("whitespace insensitive", func(t *testing.T) {
		got := QueryFingerprint(5432, "SELECT *\n  FROM users\n  WHERE id = $1", []string{"1"})
		assert.Equal(t, base, got)
	})

	t.Run("params distinguish", func(t *testing.T) {
		got := QueryFingerprint(5432, "SELECT * FROM users WHERE id = $1", []string{"2"})
		assert.NotEqual(t, base, got)
	})

	t.Run("port distinguishes", func(t *testing.T) {
		got := QueryFingerprint(5433, "SELECT * FROM users WHERE id = $1", []string{"1"})
		assert.NotEqual(t, base, got)
	})

	t.Run("no params", func(t *testing.T) {
		assert.Equal(t, "5432|SELECT 1", QueryFingerprint(5432, "SELECT 1", nil))
	})
}
