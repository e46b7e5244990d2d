package canonical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS(t *testing.T) {
	t.Run("Sorts Keys Recursively", func(t *testing.T) {
		in := map[string]interface{}{
			"zeta":  1,
			"alpha": map[string]interface{}{"b": 2, "a": 1},
		}
		out, err := JCS(in)
		require.NoError(t, err)
		assert.Equal(t, `{"alpha":{"a":1,"b":2},"zeta":1}`, string(out))
	})

	t.Run("No HTML Escaping", func(t *testing.T) {
		out, err := JCS(map[string]string{"k": "<a>&</a>"})
		require.NoError(t, err)
		assert.Contains(t, string(out), "<a>&</a>")
	})

	t.Run("Struct Tags Respected", func(t *testing.T) {
		type payload struct {
			B string `json:"b"`
			A string `json:"a"`
		}
		out, err := JCS(payload{B: "2", A: "1"})
		require.NoError(t, err)
		assert.Equal(t, `{"a":"1","b":"2"}`, string(out))
	})
}

func TestHash(t *testing.T) {
	t.Run("Prefix And Length", func(t *testing.T) {
		h, err := Hash(map[string]int{"x": 1})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(h, "sha256:"))
		assert.Len(t, strings.TrimPrefix(h, "sha256:"), 64)
	})

	t.Run("Key Order Independence", func(t *testing.T) {
		h1, err := Hash(map[string]interface{}{"a": 1, "b": 2, "c": map[string]int{"x": 1, "y": 2}})
		require.NoError(t, err)
		h2, err := Hash(map[string]interface{}{"c": map[string]int{"y": 2, "x": 1}, "b": 2, "a": 1})
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("Distinct Content Distinct Hash", func(t *testing.T) {
		h1, _ := Hash(map[string]int{"a": 1})
		h2, _ := Hash(map[string]int{"a": 2})
		assert.NotEqual(t, h1, h2)
	})
}
