package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntity_WithFields_DoesNotMutate(t *testing.T) {
	orig := Entity{ID: "T1", Fields: Fields{"status": String("doing"), "title": String("x")}, Version: VersionPtr(2)}
	next := orig.WithFields(Fields{"status": String("done")})

	assert.Equal(t, String("doing"), orig.Fields["status"])
	assert.Equal(t, String("done"), next.Fields["status"])
	assert.Equal(t, String("x"), next.Fields["title"])
	assert.Equal(t, int64(2), *next.Version)

	*next.Version = 3
	assert.Equal(t, int64(2), *orig.Version, "version pointer must not be shared")
}

func TestEntity_JSON(t *testing.T) {
	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	e := Entity{ID: "T1", Fields: Fields{"status": String("done")}, UpdatedAt: ts, Version: VersionPtr(4), OpID: "op-7"}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"T1","fields":{"status":"done"},"updated_at":"2026-10-01T12:00:00Z","version":4,"op_id":"op-7"}`, string(data))

	var back Entity
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, e.Equal(back))
}

func TestEntity_JSON_OmitsMissingBookkeeping(t *testing.T) {
	data, err := json.Marshal(Entity{ID: "T1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"T1","fields":{}}`, string(data))

	var back Entity
	require.NoError(t, json.Unmarshal(data, &back))
	assert.False(t, back.HasVersion())
	assert.False(t, back.HasUpdatedAt())
}

func TestEntity_Equal(t *testing.T) {
	a := Entity{ID: "T1", Fields: Fields{"x": Int(1)}, Version: VersionPtr(1)}
	assert.True(t, a.Equal(a.Clone()))

	b := a.Clone()
	b.Version = nil
	assert.False(t, a.Equal(b))

	c := a.WithFields(Fields{"x": Int(2)})
	assert.False(t, a.Equal(c))
}

func TestEntity_Validate(t *testing.T) {
	assert.Error(t, Entity{}.Validate())
	assert.NoError(t, Entity{ID: "T1"}.Validate())
	assert.Error(t, Identity{}.Validate())
	assert.NoError(t, Identity{UserID: "u"}.Validate())
}
