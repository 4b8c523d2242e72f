package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"bool", Bool(false), "false"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"plain map", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{"no html escaping", String("<a&b>"), `"<a&b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := Object{
		"z": Object{"b": Int(1), "a": Int(2)},
		"a": Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalRejectsFloatAndNull(t *testing.T) {
	_, err := MarshalCanonical(Object{"x": Float(1.5)})
	assert.ErrorContains(t, err, "floats")

	_, err = MarshalCanonical(Array{Null{}})
	assert.ErrorContains(t, err, "null")
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := string([]rune{'e', 0x0301})
	composed := string([]rune{0x00e9})

	a, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	b, err := MarshalCanonical(String(composed))
	require.NoError(t, err)

	assert.Equal(t, b, a)
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	ls := string([]rune{0x2028})

	result, err := MarshalCanonical(String("a" + ls + "b"))
	require.NoError(t, err)
	assert.Equal(t, `"a`+ls+`b"`, string(result))

	// A literal backslash followed by the text u2028 stays escaped.
	result, err = MarshalCanonical(String(`a\u2028`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028"`, string(result))
}

func TestMutationKeyStable(t *testing.T) {
	k1, err := MutationKey("support", "user:7", "proposal:1", 3)
	require.NoError(t, err)
	k2, err := MutationKey("support", "user:7", "proposal:1", 3)
	require.NoError(t, err)
	k3, err := MutationKey("unsupport", "user:7", "proposal:1", 3)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 64)
}

func TestHashDomainSeparation(t *testing.T) {
	v := Object{"id": Int(1)}
	mutation, err := Hash(DomainMutation, v)
	require.NoError(t, err)
	record, err := Hash(DomainRecord, v)
	require.NoError(t, err)
	assert.NotEqual(t, mutation, record)
}
