package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollection_WithAndWithoutCopy(t *testing.T) {
	base := NewCollection(Entity{ID: "T1", Fields: Fields{"a": Int(1)}})

	added := base.With(Entity{ID: "T2"})
	assert.Len(t, base, 1)
	assert.Len(t, added, 2)

	removed := added.Without("T1")
	assert.Len(t, added, 2)
	assert.Equal(t, []string{"T2"}, ids(removed.Sorted()))
}

func TestCollection_JSONIsSortedArray(t *testing.T) {
	c := NewCollection(Entity{ID: "b"}, Entity{ID: "a", Version: VersionPtr(1)})

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a","fields":{},"version":1},{"id":"b","fields":{}}]`, string(data))

	var back Collection
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, c.Equal(back))
}

func TestCollection_UnmarshalRejectsMissingID(t *testing.T) {
	var c Collection
	err := json.Unmarshal([]byte(`[{"fields":{}}]`), &c)
	assert.Error(t, err)
}

func ids(list []Entity) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}
