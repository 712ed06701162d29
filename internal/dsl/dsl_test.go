package dsl

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectKeepsKeyOrder(t *testing.T) {
	obj, err := ParseObject([]byte(`{"zeta":1,"alpha":{"x":2},"mid":[3]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, obj.Keys)
	raw, ok := obj.Get("alpha")
	require.True(t, ok)
	assert.JSONEq(t, `{"x":2}`, string(raw))
}

func TestParseObjectDuplicateKeyKeepsFirstPositionLastValue(t *testing.T) {
	obj, err := ParseObject([]byte(`{"a":1,"b":2,"a":3}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, obj.Keys)
	assert.Equal(t, "3", string(obj.Fields["a"]))
}

func TestParseObjectNull(t *testing.T) {
	for _, in := range []string{"", "  ", "null"} {
		obj, err := ParseObject([]byte(in))
		require.NoError(t, err)
		assert.Zero(t, obj.Len())
	}
}

func TestParseObjectRejectsArrays(t *testing.T) {
	_, err := ParseObject([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestSingle(t *testing.T) {
	obj, err := ParseObject([]byte(`{"status":"ok"}`))
	require.NoError(t, err)
	key, value, err := obj.Single()
	require.NoError(t, err)
	assert.Equal(t, "status", key)
	assert.Equal(t, `"ok"`, string(value))

	obj, _ = ParseObject([]byte(`{"a":1,"b":2}`))
	_, _, err = obj.Single()
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	cases := map[string]string{
		`"ok"`:  "ok",
		`10.50`: "10.50",
		`42`:    "42",
		`true`:  "true",
	}
	for in, want := range cases {
		got, err := String([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := String([]byte(`{"a":1}`))
	assert.Error(t, err)
}

func TestStrings(t *testing.T) {
	got, err := Strings([]byte(`["a", 2, "c"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "2", "c"}, got)

	got, err = Strings([]byte(`"doc"`))
	require.NoError(t, err)
	assert.Equal(t, []string{"doc"}, got)
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 5, ToInt(json.Number("5"), 0))
	assert.Equal(t, 7, ToInt("7", 0))
	assert.Equal(t, 3, ToInt(json.Number("3.9"), 0))
	assert.Equal(t, 10, ToInt(nil, 10))
	assert.Equal(t, 10, ToInt("abc", 10))
}

func TestToFloat(t *testing.T) {
	f, ok := ToFloat(json.Number("1.5"))
	assert.True(t, ok)
	assert.Equal(t, 1.5, f)

	f, ok = ToFloat(int64(4))
	assert.True(t, ok)
	assert.Equal(t, 4.0, f)

	_, ok = ToFloat("x")
	assert.False(t, ok)
}
