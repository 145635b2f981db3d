package nfig

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConverterFor_Scalars(t *testing.T) {
	cases := []struct {
		value any
		str   string
	}{
		{int(42), "42"},
		{uint(7), "7"},
		{true, "true"},
		{"hello", "hello"},
		{3.5, "3.5"},
	}
	for _, c := range cases {
		typ := reflect.TypeOf(c.value)
		conv := DefaultConverterFor(typ)
		require.NotNilf(t, conv, "no converter for %v", typ)
		v, err := conv.Parse(c.str, typ)
		require.NoError(t, err)
		s, err := conv.Stringify(v)
		require.NoError(t, err)
		assert.Equal(t, c.str, s)
	}
}

func TestDefaultConverterFor_Duration(t *testing.T) {
	durType := reflect.TypeOf(time.Duration(0))
	conv := DefaultConverterFor(durType)
	require.NotNil(t, conv)

	v, err := conv.Parse("30s", durType)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, v.Interface())

	s, err := conv.Stringify(v)
	require.NoError(t, err)
	assert.Equal(t, "30s", s)
}

func TestEnumConverter(t *testing.T) {
	conv := EnumConverter(map[string]int64{"Red": 0, "Green": 1, "Blue": 2})
	typ := reflect.TypeOf(int64(0))

	v, err := conv.Parse("Green", typ)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Int())

	s, err := conv.Stringify(v)
	require.NoError(t, err)
	assert.Equal(t, "Green", s)

	_, err = conv.Parse("Purple", typ)
	assert.Error(t, err)
}
