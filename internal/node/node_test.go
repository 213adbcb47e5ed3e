package node

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHex(t *testing.T) {
	n := Hash([]byte("hello"))

	parsed, err := FromHex(n.Hex())
	require.NoError(t, err)
	assert.Equal(t, n, parsed)

	_, err = FromHex("abcd")
	assert.Error(t, err)

	_, err = FromHex("zz06b0c44298fc1c149afbf4c8996fb92427ae41")
	assert.Error(t, err)
}

func TestHash(t *testing.T) {
	a := Hash(Null[:], Null[:], []byte("commit one"))
	b := Hash(Null[:], Null[:], []byte("commit two"))
	assert.NotEqual(t, a, b)

	// Same parts, same node.
	assert.Equal(t, a, Hash(Null[:], Null[:], []byte("commit one")))

	// Parent identity matters.
	c := Hash(a[:], Null[:], []byte("commit one"))
	assert.NotEqual(t, a, c)
}

func TestNull(t *testing.T) {
	assert.True(t, Null.IsNull())
	assert.False(t, Hash([]byte("x")).IsNull())
	assert.Equal(t, "0000000000000000000000000000000000000000", Null.Hex())
}

func TestJSONRoundTrip(t *testing.T) {
	n := Hash([]byte("content"))

	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Equal(t, `"`+n.Hex()+`"`, string(data))

	var back Node
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, n, back)

	var bad Node
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &bad))
}
