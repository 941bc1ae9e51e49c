package registry

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, hub *Hub, id string, opts ...Option) *Store {
	t.Helper()
	s, err := hub.Open(id, opts...)
	require.NoError(t, err)
	return s
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a.b.c", []string{"a", "b", "c"}},
		{`a\.b.c`, []string{"a.b", "c"}},
		{"a..b", []string{"a", "", "b"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, splitPath(tt.path), tt.path)
	}
}

func TestStore_SetGet(t *testing.T) {
	s := openStore(t, NewHub(), "test")

	s.Set("worker.id", "42")
	v, ok := s.Get("worker.id")
	require.True(t, ok)
	assert.Equal(t, "42", v)

	assert.True(t, s.Has("worker"))
	assert.False(t, s.Has("worker.missing"))
	assert.Equal(t, "fallback", s.GetOr("nope", "fallback"))

	_, ok = s.Get("")
	assert.False(t, ok)
	s.Set("", "ignored")
	assert.Equal(t, map[string]interface{}{"worker": map[string]interface{}{"id": "42"}}, s.GetAll())
}

func TestStore_SetMergesMaps(t *testing.T) {
	s := openStore(t, NewHub(), "test")

	s.Set("cfg", map[string]interface{}{
		"a": 1,
		"nested": map[string]interface{}{
			"x": 1,
			"y": 2,
		},
	})
	s.Set("cfg", map[string]interface{}{
		"b": 2,
		"nested": map[string]interface{}{
			"y": 3,
		},
	})

	want := map[string]interface{}{
		"a": 1,
		"b": 2,
		"nested": map[string]interface{}{
			"x": 1,
			"y": 3,
		},
	}
	assert.Equal(t, want, s.GetOr("cfg", nil))
}

func TestStore_SetOverwrite(t *testing.T) {
	s := openStore(t, NewHub(), "test")

	s.Set("cfg", map[string]interface{}{"a": 1, "b": 2})
	s.Set("cfg", map[string]interface{}{"c": 3}, Overwrite())

	assert.Equal(t, map[string]interface{}{"c": 3}, s.GetOr("cfg", nil))
}

func TestStore_SetReplacesScalarWithMap(t *testing.T) {
	s := openStore(t, NewHub(), "test")

	s.Set("cfg", "plain")
	s.Set("cfg.inner", 1)

	assert.Equal(t, map[string]interface{}{"inner": 1}, s.GetOr("cfg", nil))
}

func TestStore_SetClonesInput(t *testing.T) {
	s := openStore(t, NewHub(), "test")

	in := map[string]interface{}{"a": 1}
	s.Set("cfg", in)
	in["a"] = 2

	assert.Equal(t, 1, s.GetOr("cfg.a", nil))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := openStore(t, NewHub(), "test")

	var fired int
	s.Subscribe("cfg.a", func(_, _ interface{}) { fired++ })

	s.Set("cfg", map[string]interface{}{"a": 1})
	require.Equal(t, 1, fired)

	v, ok := s.Get("cfg")
	require.True(t, ok)
	v.(map[string]interface{})["a"] = 99

	all := s.GetAll()
	all["cfg"].(map[string]interface{})["a"] = 100

	assert.Equal(t, 1, s.GetOr("cfg.a", nil))
	assert.Equal(t, 1, fired)
}

func TestStore_GetWhileSetting(t *testing.T) {
	s := openStore(t, NewHub(), "test")
	s.Set("cfg", map[string]interface{}{"a": 0})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			s.Set("cfg", map[string]interface{}{"a": i})
		}
	}()

	for i := 0; i < 200; i++ {
		v, ok := s.Get("cfg")
		require.True(t, ok)
		_, has := v.(map[string]interface{})["a"]
		assert.True(t, has)
	}
	wg.Wait()

	assert.Equal(t, 200, s.GetOr("cfg.a", nil))
}

func TestStore_Delete(t *testing.T) {
	s := openStore(t, NewHub(), "test")

	s.Set("a.b", 1)
	s.Set("a.c", 2)

	assert.True(t, s.Delete("a.b"))
	assert.False(t, s.Delete("a.b"))
	assert.False(t, s.Delete("x.y"))
	assert.Equal(t, map[string]interface{}{"c": 2}, s.GetOr("a", nil))
}

func TestHub_SharedNamespace(t *testing.T) {
	hub := NewHub()
	first := openStore(t, hub, "shared")
	second := openStore(t, hub, "shared")
	other := openStore(t, hub, "other")

	assert.NotSame(t, first, second)

	first.Set("key", "value")
	assert.Equal(t, "value", second.GetOr("key", nil))
	assert.False(t, other.Has("key"))
	assert.ElementsMatch(t, []string{"shared", "other"}, hub.IDs())
}

func TestHub_DefaultsOnlyOnCreate(t *testing.T) {
	hub := NewHub()
	first := openStore(t, hub, "s", WithDefaults(map[string]interface{}{"a": 1}))
	first.Set("a", 2)

	second := openStore(t, hub, "s", WithDefaults(map[string]interface{}{"a": 1}))
	assert.Equal(t, 2, second.GetOr("a", nil))
}

func TestStore_SubscribeFiresOnChangeOnly(t *testing.T) {
	s := openStore(t, NewHub(), "test")

	type change struct{ newValue, oldValue interface{} }
	var got []change
	unsubscribe := s.Subscribe("cfg", func(newValue, oldValue interface{}) {
		got = append(got, change{newValue, oldValue})
	})

	s.Set("cfg", map[string]interface{}{"a": 1})
	s.Set("cfg", map[string]interface{}{"a": 1})
	s.Set("cfg", map[string]interface{}{"a": 1}, Overwrite())
	s.Set("unrelated", true)
	s.Set("cfg.a", 2)

	require.Len(t, got, 2)
	assert.Nil(t, got[0].oldValue)
	assert.Equal(t, map[string]interface{}{"a": 1}, got[0].newValue)
	assert.Equal(t, map[string]interface{}{"a": 1}, got[1].oldValue)
	assert.Equal(t, map[string]interface{}{"a": 2}, got[1].newValue)

	s.Delete("cfg")
	require.Len(t, got, 3)
	assert.Nil(t, got[2].newValue)

	unsubscribe()
	s.Set("cfg", "again")
	assert.Len(t, got, 3)
}

func TestStore_SubscribeAcrossViews(t *testing.T) {
	hub := NewHub()
	writer := openStore(t, hub, "shared")
	reader := openStore(t, hub, "shared")

	calls := 0
	reader.Subscribe("k", func(_, _ interface{}) { calls++ })

	writer.Set("k", 1)
	writer.Set("k", 1)
	assert.Equal(t, 1, calls)
}

func TestStore_SubscribeReentrant(t *testing.T) {
	s := openStore(t, NewHub(), "test")

	var first, second int
	s.Subscribe("a", func(newValue, _ interface{}) {
		first++
		s.Set("b", newValue)
	})
	s.Subscribe("b", func(_, _ interface{}) {
		second++
	})

	s.Set("a", 1)

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, s.GetOr("b", nil))
}

func TestStore_CommitAndLoad(t *testing.T) {
	dir := t.TempDir()
	hub := NewHub()
	s := openStore(t, hub, "workers", WithDir(dir))

	s.Set("a", map[string]interface{}{"x": 1})
	s.Set("b", "keep")
	s.Set("c", "drop")

	require.NoError(t, s.Commit(CommitOptions{Except: []string{"c"}}))
	assert.FileExists(t, filepath.Join(dir, "workers.json"))
	assert.True(t, s.Has("c"), "commit must not mutate the store")

	loaded := openStore(t, NewHub(), "workers", WithDir(dir), WithAutoload())
	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"x": float64(1)},
		"b": "keep",
	}, loaded.GetAll())

	only := filepath.Join(dir, "only.json")
	require.NoError(t, s.Commit(CommitOptions{FilePath: only, Only: []string{"a.x", "missing"}}))

	target := openStore(t, NewHub(), "target")
	target.Set("b", "local")
	require.NoError(t, target.Load(only, false))
	assert.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{"x": float64(1)},
		"b": "local",
	}, target.GetAll())

	require.NoError(t, target.Load(only, true))
	assert.False(t, target.Has("b"))
}

func TestStore_LoadMissingFile(t *testing.T) {
	s := openStore(t, NewHub(), "none", WithDir(t.TempDir()))
	assert.NoError(t, s.Load("", true))
	assert.Empty(t, s.GetAll())
}
