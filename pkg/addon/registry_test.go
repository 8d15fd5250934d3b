package addon

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAddOn implements the AddOn interface for testing
type mockAddOn struct {
	name string
}

func (m *mockAddOn) Name() string   { return m.name }
func (m *mockAddOn) Init() error    { return nil }
func (m *mockAddOn) Destroy() error { return nil }

func factoryFor(name string) Factory {
	return FactoryFunc(func(ctx *Context) (AddOn, error) { return &mockAddOn{name: name}, nil })
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name        string
		desc        Descriptor
		wantErr     bool
		errContains string
	}{
		{
			name: "valid registration",
			desc: Descriptor{
				Name:        "homekit",
				Description: "A test add-on",
				Factory:     factoryFor("homekit"),
			},
			wantErr: false,
		},
		{
			name: "empty name",
			desc: Descriptor{
				Name:    "",
				Factory: factoryFor(""),
			},
			wantErr:     true,
			errContains: "name cannot be empty",
		},
		{
			name: "nil factory",
			desc: Descriptor{
				Name:    "homekit",
				Factory: nil,
			},
			wantErr:     true,
			errContains: "factory cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			err := registry.Register(tt.desc)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				assert.Equal(t, 0, registry.Len())
			} else {
				assert.NoError(t, err)
				assert.Equal(t, 1, registry.Len())
			}
		})
	}
}

func TestRegistry_DuplicateRejectedWithoutMutation(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(Descriptor{Name: "a", Description: "first", Factory: factoryFor("a")}))
	require.NoError(t, registry.Register(Descriptor{Name: "b", Factory: factoryFor("b")}))

	before := registry.Discover()

	err := registry.Register(Descriptor{Name: "a", Description: "second", Factory: factoryFor("a")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateName))

	after := registry.Discover()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Name, after[i].Name)
		assert.Equal(t, before[i].Description, after[i].Description)
	}

	d, ok := registry.Get("a")
	require.True(t, ok)
	assert.Equal(t, "first", d.Description)
}

func TestRegistry_DiscoverKeepsRegistrationOrder(t *testing.T) {
	orders := [][]string{
		{"a", "b", "c"},
		{"zeta", "alpha", "mid"},
		{"mqttbridge", "homekit", "homeassistant", "zwave"},
		{},
	}

	for _, names := range orders {
		registry := NewRegistry()
		for _, n := range names {
			require.NoError(t, registry.Register(Descriptor{Name: n, Factory: factoryFor(n)}))
		}

		got := registry.Discover()
		require.Len(t, got, len(names))
		for i, d := range got {
			assert.Equal(t, names[i], d.Name)
		}
		assert.Equal(t, names, registry.Names())
	}
}

func TestRegistry_DiscoverReturnsCopy(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Descriptor{Name: "a", Factory: factoryFor("a")}))

	list := registry.Discover()
	list[0].Name = "mutated"

	assert.Equal(t, []string{"a"}, registry.Names())
}

func TestRegistry_Get_NotFound(t *testing.T) {
	registry := NewRegistry()
	_, ok := registry.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistry_Clear(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(Descriptor{Name: "test", Factory: factoryFor("test")}))
	assert.Len(t, registry.Names(), 1)

	registry.Clear()

	assert.Len(t, registry.Names(), 0)
	_, ok := registry.Get("test")
	assert.False(t, ok)

	// A cleared name can be registered again
	assert.NoError(t, registry.Register(Descriptor{Name: "test", Factory: factoryFor("test")}))
}

func TestRegistry_ImplementsSource(t *testing.T) {
	var _ Source = NewRegistry()
}

func TestGlobalRegistry(t *testing.T) {
	// Save and restore whatever compiled-in add-ons registered
	saved := Discover()
	ClearGlobal()
	defer func() {
		ClearGlobal()
		for _, d := range saved {
			MustRegister(d)
		}
	}()

	err := Register(Descriptor{
		Name:        "global-test",
		Description: "Testing global registry",
		Factory:     factoryFor("global-test"),
	})
	require.NoError(t, err)

	list := Discover()
	require.Len(t, list, 1)
	assert.Equal(t, "Testing global registry", list[0].Description)
	assert.Same(t, Global(), globalRegistry)

	assert.Panics(t, func() {
		MustRegister(Descriptor{Name: "global-test", Factory: factoryFor("global-test")})
	})
}

func TestFactoryFunc(t *testing.T) {
	var gotCtx *Context
	f := FactoryFunc(func(ctx *Context) (AddOn, error) {
		gotCtx = ctx
		return &mockAddOn{name: ctx.Name}, nil
	})

	ctx := NewContext("homekit", NewConfig("homekit", nil), nil, nil, nil)
	a, err := f.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, "homekit", a.Name())
	assert.Same(t, ctx, gotCtx)
	assert.NotNil(t, ctx.Logger)
}

func TestContext_ReportFailure(t *testing.T) {
	var reported []error
	ctx := NewContext("x", Config{}, nil, nil, func(err error) { reported = append(reported, err) })

	ctx.ReportFailure(nil)
	ctx.ReportFailure(errors.New("connection lost"))

	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0], "connection lost")

	// Without a callback reporting is a no-op
	NewContext("y", Config{}, nil, nil, nil).ReportFailure(errors.New("ignored"))
}
