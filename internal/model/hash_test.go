package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeHash_Deterministic(t *testing.T) {
	a, err := ScopeHash(Identity{UserID: "u1", TenantID: "acme"})
	require.NoError(t, err)
	b, err := ScopeHash(Identity{UserID: "u1", TenantID: "acme"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "hex SHA-256")
}

func TestScopeHash_SeparatesTenants(t *testing.T) {
	a, err := ScopeHash(Identity{UserID: "u1", TenantID: "acme"})
	require.NoError(t, err)
	b, err := ScopeHash(Identity{UserID: "u1", TenantID: "globex"})
	require.NoError(t, err)
	c, err := ScopeHash(Identity{UserID: "u2", TenantID: "acme"})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
