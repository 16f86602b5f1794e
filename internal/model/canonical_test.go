package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"sorted keys", Object{"b": Int(1), "a": Int(2)}, `{"a":2,"b":1}`},
		{"no html escaping", String("<a&b>"), `"<a&b>"`},
		{"line separator literal", String("x\u2028y"), "\"x\u2028y\""},
		{"control chars", String("a\nb\x01"), `"a\nb\u0001"`},
		{"float shortest", Float(0.1), `0.1`},
		{"null", Null{}, `null`},
		{"nested", Object{"list": Array{Bool(true), Int(-3)}}, `{"list":[true,-3]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "é" as a single code point vs "e" + combining acute accent
	composed, err := MarshalCanonical(String("caf\u00e9"))
	require.NoError(t, err)
	decomposed, err := MarshalCanonical(String("cafe\u0301"))
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_RejectsNaN(t *testing.T) {
	_, err := MarshalCanonical(Float(math.NaN()))
	assert.Error(t, err)
}
