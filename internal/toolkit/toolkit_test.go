// ABOUTME: Tests for the shared toolkit
// ABOUTME: Covers rename-on-collision, call routing, removal, and in-process tools

package toolkit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-runtime/internal/mcp"
)

type fakeProvider struct {
	name  string
	tools []mcp.Tool
	calls []string
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) Tools() []mcp.Tool   { return f.tools }
func (f *fakeProvider) CallTool(_ context.Context, name string, _ map[string]any) (*mcp.Result, error) {
	f.calls = append(f.calls, name)
	return &mcp.Result{Text: f.name + ":" + name}, nil
}

func provider(name string, tools ...string) *fakeProvider {
	p := &fakeProvider{name: name}
	for _, tool := range tools {
		p.tools = append(p.tools, mcp.Tool{Name: tool})
	}
	return p
}

func TestToolkit_RenamesOnCollision(t *testing.T) {
	tk := New(nil)

	names, err := tk.AddProvider(provider("a", "search", "fetch"))
	require.NoError(t, err)
	assert.Equal(t, []string{"search", "fetch"}, names)

	names, err = tk.AddProvider(provider("b", "search"))
	require.NoError(t, err)
	assert.Equal(t, []string{"search_b"}, names)

	// a provider that advertises the renamed form as a real name forces a suffix
	names, err = tk.AddProvider(provider("c", "search_b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"search_b_c"}, names)

	assert.Equal(t, 4, tk.Len())
}

func TestToolkit_NumericSuffix(t *testing.T) {
	tk := New(nil)
	_, err := tk.AddProvider(provider("a", "x", "x_b"))
	require.NoError(t, err)

	names, err := tk.AddProvider(provider("b", "x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x_b_2"}, names)
}

func TestToolkit_CallRoutesToOwner(t *testing.T) {
	tk := New(nil)
	a, b := provider("a", "search"), provider("b", "search")
	_, err := tk.AddProvider(a)
	require.NoError(t, err)
	_, err = tk.AddProvider(b)
	require.NoError(t, err)

	res, err := tk.Call(context.Background(), "search_b", nil)
	require.NoError(t, err)
	assert.Equal(t, "b:search", res.Text)
	assert.Equal(t, []string{"search"}, b.calls)
	assert.Empty(t, a.calls)

	_, err = tk.Call(context.Background(), "missing", nil)
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestToolkit_DuplicateProvider(t *testing.T) {
	tk := New(nil)
	_, err := tk.AddProvider(provider("a", "x"))
	require.NoError(t, err)
	_, err = tk.AddProvider(provider("a", "y"))
	assert.True(t, errors.Is(err, ErrProviderAlreadyAdded))
}

func TestToolkit_RemoveProvider(t *testing.T) {
	tk := New(nil)
	_, _ = tk.AddProvider(provider("a", "x", "y"))
	_, _ = tk.AddProvider(provider("b", "z"))

	tk.RemoveProvider("a")
	tools := tk.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "z", tools[0].Name)

	_, ok := tk.Get("x")
	assert.False(t, ok)
}

func TestToolkit_AddFunc(t *testing.T) {
	tk := New(nil)
	_, _ = tk.AddProvider(provider("a", "now"))

	name := tk.AddFunc("now", "current time", nil, func(context.Context, map[string]any) (*mcp.Result, error) {
		return &mcp.Result{Text: "noon"}, nil
	})
	assert.Equal(t, "now_local", name)

	res, err := tk.Call(context.Background(), "now_local", nil)
	require.NoError(t, err)
	assert.Equal(t, "noon", res.Text)
}

func TestToolkit_Clear(t *testing.T) {
	tk := New(nil)
	_, _ = tk.AddProvider(provider("a", "x"))
	tk.Clear()
	assert.Equal(t, 0, tk.Len())

	_, err := tk.AddProvider(provider("a", "x"))
	assert.NoError(t, err)
}
