package loader

import (
	"errors"
	"os"
	"path/filepath"
	"plugin"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homehub/pkg/addon"
)

type fakeLibrary map[string]plugin.Symbol

func (f fakeLibrary) Lookup(symbol string) (plugin.Symbol, error) {
	s, ok := f[symbol]
	if !ok {
		return nil, errors.New("symbol not found")
	}
	return s, nil
}

type nopAddOn struct{ name string }

func (n nopAddOn) Name() string   { return n.name }
func (n nopAddOn) Init() error    { return nil }
func (n nopAddOn) Destroy() error { return nil }

func descriptor(name string) addon.Descriptor {
	return addon.Descriptor{
		Name: name,
		Factory: addon.FactoryFunc(func(*addon.Context) (addon.AddOn, error) {
			return nopAddOn{name: name}, nil
		}),
	}
}

func exporting(names ...string) fakeLibrary {
	return fakeLibrary{Symbol: func() []addon.Descriptor {
		ds := make([]addon.Descriptor, 0, len(names))
		for _, n := range names {
			ds = append(ds, descriptor(n))
		}
		return ds
	}}
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0644))
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b_zigbee.so", "a_matter.so", "README.md")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.so"), 0755))

	libs := map[string]Library{
		"a_matter.so": exporting("matter"),
		"b_zigbee.so": exporting("zigbee", "zigbee-groups"),
	}
	var opened []string
	l := New(nil, WithOpener(func(path string) (Library, error) {
		opened = append(opened, filepath.Base(path))
		return libs[filepath.Base(path)], nil
	}))

	reg := addon.NewRegistry()
	result, err := l.LoadDir(dir, reg)
	require.NoError(t, err)

	assert.Equal(t, []string{"a_matter.so", "b_zigbee.so"}, opened)
	assert.Equal(t, []string{"matter", "zigbee", "zigbee-groups"}, result.Registered)
	assert.Empty(t, result.RejectedFiles)
	assert.Empty(t, result.RejectedAddOns)
	assert.Equal(t, []string{"matter", "zigbee", "zigbee-groups"}, reg.Names())
}

func TestLoadDir_AppendsAfterCompiledIn(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "extra.so")

	reg := addon.NewRegistry()
	require.NoError(t, reg.Register(descriptor("homekit")))

	l := New(nil, WithOpener(func(string) (Library, error) {
		return exporting("extra"), nil
	}))
	_, err := l.LoadDir(dir, reg)
	require.NoError(t, err)

	assert.Equal(t, []string{"homekit", "extra"}, reg.Names())
}

func TestLoadDir_RejectsBadLibraries(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "broken.so", "nosymbol.so", "wrongtype.so", "panics.so", "dup.so")

	libs := map[string]Library{
		"nosymbol.so":  fakeLibrary{},
		"wrongtype.so": fakeLibrary{Symbol: "not a function"},
		"panics.so":    fakeLibrary{Symbol: func() []addon.Descriptor { panic("boom") }},
		"dup.so":       exporting("homekit", "fresh"),
	}
	l := New(nil, WithOpener(func(path string) (Library, error) {
		lib, ok := libs[filepath.Base(path)]
		if !ok {
			return nil, errors.New("invalid ELF header")
		}
		return lib, nil
	}))

	reg := addon.NewRegistry()
	require.NoError(t, reg.Register(descriptor("homekit")))

	result, err := l.LoadDir(dir, reg)
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh"}, result.Registered)
	assert.Len(t, result.RejectedFiles, 4)
	for _, key := range []string{"broken.so", "nosymbol.so", "wrongtype.so", "panics.so"} {
		assert.Contains(t, result.RejectedFiles, key)
	}
	require.Len(t, result.RejectedAddOns, 1)
	assert.ErrorIs(t, result.RejectedAddOns["homekit"], addon.ErrDuplicateName)
	assert.Equal(t, []string{"homekit", "fresh"}, reg.Names())
}

func TestLoadDir_AddOnNamedLikeFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.so", "b.so")

	// a.so exports an add-on called "b.so"; the file b.so is unloadable.
	l := New(nil, WithOpener(func(path string) (Library, error) {
		if filepath.Base(path) == "b.so" {
			return nil, errors.New("invalid ELF header")
		}
		return exporting("b.so"), nil
	}))

	reg := addon.NewRegistry()
	require.NoError(t, reg.Register(descriptor("b.so")))

	result, err := l.LoadDir(dir, reg)
	require.NoError(t, err)

	assert.Empty(t, result.Registered)
	require.Contains(t, result.RejectedAddOns, "b.so")
	assert.ErrorIs(t, result.RejectedAddOns["b.so"], addon.ErrDuplicateName)
	require.Contains(t, result.RejectedFiles, "b.so")
	assert.ErrorContains(t, result.RejectedFiles["b.so"], "invalid ELF header")
}

func TestLoadDir_PointerSymbol(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "var.so")

	fn := func() []addon.Descriptor { return []addon.Descriptor{descriptor("var")} }
	l := New(nil, WithOpener(func(string) (Library, error) {
		return fakeLibrary{Symbol: &fn}, nil
	}))

	reg := addon.NewRegistry()
	result, err := l.LoadDir(dir, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"var"}, result.Registered)
}

func TestLoadDir_UnreadableDirectory(t *testing.T) {
	l := New(nil)
	_, err := l.LoadDir(filepath.Join(t.TempDir(), "missing"), addon.NewRegistry())
	assert.Error(t, err)
}
