package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func echoTool(id string) *Tool {
	return &Tool{ID: id, Name: "echo " + id, Capability: Func(func(_ context.Context, inputs map[string]any) (any, error) {
		return inputs, nil
	})}
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("a")))
	assert.True(t, reg.Has("a"))
	assert.Equal(t, 1, reg.Count())

	err := reg.Register(echoTool("a"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	err = reg.Register(nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = reg.Register(&Tool{ID: "", Capability: echoTool("x").Capability})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterFunc("upper", "Upper", func(_ context.Context, in map[string]any) (any, error) {
		return in["text"], nil
	}))

	tool, err := reg.Lookup(context.Background(), "upper")
	require.NoError(t, err)
	assert.Equal(t, "Upper", tool.DisplayName())

	res, err := tool.Capability.Invoke(context.Background(), map[string]any{"text": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", res.Value)

	_, err = reg.Lookup(context.Background(), "nope")
	assert.True(t, schema.IsCode(err, schema.ErrCodeToolNotFound))
}

func TestRegistry_ListSortedAndRemove(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, reg.Register(echoTool(id)))
	}
	ids := []string{}
	for _, tl := range reg.List() {
		ids = append(ids, tl.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	reg.Remove("b")
	reg.Remove("missing")
	assert.Equal(t, 2, reg.Count())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		id := string(rune('a' + i))
		go func() {
			defer wg.Done()
			_ = reg.Register(echoTool(id))
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.Lookup(context.Background(), id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, reg.Count())
}

func TestChain(t *testing.T) {
	first := NewRegistry()
	second := NewRegistry()
	require.NoError(t, first.Register(echoTool("a")))
	require.NoError(t, second.Register(echoTool("b")))

	l := Chain(first, second)

	tl, err := l.Lookup(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "b", tl.ID)

	_, err = l.Lookup(context.Background(), "c")
	assert.True(t, schema.IsCode(err, schema.ErrCodeToolNotFound))
}

type failingLookup struct{}

func (failingLookup) Lookup(context.Context, string) (*Tool, error) {
	return nil, schema.NewError(schema.ErrCodeStore, "database is locked")
}

func TestChain_StopsOnHardError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool("a")))

	_, err := Chain(failingLookup{}, reg).Lookup(context.Background(), "a")
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}

func TestWithTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := WithTimeout(slow, 20*time.Millisecond).Invoke(context.Background(), nil, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	fast := Func(func(context.Context, map[string]any) (any, error) { return "ok", nil })
	res, err := WithTimeout(fast, 0).Invoke(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
}
