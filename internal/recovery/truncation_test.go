package recovery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceAlreadyComplete(t *testing.T) {
	in := `{"files":[{"path":"a","content":"b"}]}`
	assert.Equal(t, in, Balance(in))
	assert.True(t, IsBalanced(in))
}

func TestBalanceOpenString(t *testing.T) {
	out := Balance(`{"files":[{"path":"a","content":"unfinished`)
	assert.Equal(t, `{"files":[{"path":"a","content":"unfinished"}]}`, out)
	assert.True(t, json.Valid([]byte(out)))
}

func TestBalanceOpenStack(t *testing.T) {
	out := Balance(`{"files":[{"path":"a","content":"b"}`)
	assert.Equal(t, `{"files":[{"path":"a","content":"b"}]}`, out)
}

func TestBalanceTrailingBackslash(t *testing.T) {
	out := Balance(`{"a":"x\`)
	require.True(t, json.Valid([]byte(out)), out)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, `x\`, v["a"])
}

func TestBalanceIdempotent(t *testing.T) {
	in := `{"files":[{"path":"a","content":"unfinished`
	once := Balance(in)
	assert.Equal(t, once, Balance(once))
}

func TestBalanceIgnoresBracesInStrings(t *testing.T) {
	out := Balance(`{"a":"}}}]]]"`)
	assert.Equal(t, `{"a":"}}}]]]"}`, out)
}

func TestBalanceEmpty(t *testing.T) {
	assert.Equal(t, "", Balance(""))
	assert.True(t, IsBalanced(""))
}

func TestIsBalancedOutsideString(t *testing.T) {
	assert.True(t, IsBalancedOutsideString(`{"a":1,`))
	assert.False(t, IsBalancedOutsideString(`{"a":"open`))
	assert.False(t, IsBalancedOutsideString(`{"a":"x\`))
}
