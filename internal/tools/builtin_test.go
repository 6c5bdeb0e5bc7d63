package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{}))
	return reg
}

func invoke(t *testing.T, reg *Registry, id string, inputs map[string]any) (any, error) {
	t.Helper()
	tool, err := reg.Lookup(context.Background(), id)
	require.NoError(t, err)
	res, err := tool.Capability.Invoke(context.Background(), inputs, nil)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func TestRegisterBuiltins_Definitions(t *testing.T) {
	reg := builtinRegistry(t)
	for _, tl := range reg.List() {
		require.NotNil(t, tl.Definition, tl.ID)
		assert.Equal(t, schema.RuntimeBuiltin, tl.Definition.Runtime)
		assert.Equal(t, tl.ID, tl.Definition.ID)
	}
	assert.True(t, reg.Has("http.get"))
	assert.True(t, reg.Has("crypto.hash"))

	// Registering twice collides.
	assert.Error(t, RegisterBuiltins(reg, BuiltinConfig{}))
}

func TestHTTPTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"method":"` + r.Method + `"}`))
		case "/echo":
			b, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(b)
		case "/text":
			_, _ = w.Write([]byte("plain"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := builtinRegistry(t)

	t.Run("get json", func(t *testing.T) {
		out, err := invoke(t, reg, "http.get", map[string]any{"url": srv.URL + "/json"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"method": "GET"}, out)
	})

	t.Run("post echoes json body", func(t *testing.T) {
		out, err := invoke(t, reg, "http.post", map[string]any{"url": srv.URL + "/echo", "data": map[string]any{"a": 1.0}})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1.0}, out)
	})

	t.Run("request with method", func(t *testing.T) {
		out, err := invoke(t, reg, "http.request", map[string]any{"url": srv.URL + "/json", "method": "put"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"method": "PUT"}, out)
	})

	t.Run("text body", func(t *testing.T) {
		out, err := invoke(t, reg, "http.get", map[string]any{"url": srv.URL + "/text"})
		require.NoError(t, err)
		assert.Equal(t, "plain", out)
	})

	t.Run("error status fails", func(t *testing.T) {
		_, err := invoke(t, reg, "http.get", map[string]any{"url": srv.URL + "/missing"})
		assert.True(t, schema.IsCode(err, schema.ErrCodeStepFailed))
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := invoke(t, reg, "http.get", map[string]any{"url": "ftp://x"})
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	})
}

func TestCryptoTools(t *testing.T) {
	reg := builtinRegistry(t)

	out, err := invoke(t, reg, "crypto.hash", map[string]any{"data": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", out.(map[string]any)["hash"])

	out, err = invoke(t, reg, "crypto.hmac", map[string]any{"data": "abc", "key": "k", "algorithm": "sha1"})
	require.NoError(t, err)
	assert.Len(t, out.(map[string]any)["hmac"], 40)

	_, err = invoke(t, reg, "crypto.hash", map[string]any{"data": "abc", "algorithm": "crc"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	out, err = invoke(t, reg, "crypto.uuid", nil)
	require.NoError(t, err)
	assert.Len(t, out, 36)
}

func TestJSONParse(t *testing.T) {
	reg := builtinRegistry(t)

	out, err := invoke(t, reg, "json.parse", map[string]any{"json_str": `{"a":[1,2]}`})
	require.NoError(t, err)
	b, _ := json.Marshal(out)
	assert.JSONEq(t, `{"a":[1,2]}`, string(b))

	_, err = invoke(t, reg, "json.parse", map[string]any{"json_str": `{`})
	assert.True(t, schema.IsCode(err, schema.ErrCodeStepFailed))
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := sleep(ctx, map[string]any{"seconds": 5.0})
	assert.True(t, schema.IsCode(err, schema.ErrCodeCancelled))

	out, err := sleep(context.Background(), map[string]any{"seconds": 0.0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)
}
