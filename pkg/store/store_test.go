package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andydunstall/setdb/pkg/record"
)

func TestStore_Admit(t *testing.T) {
	t.Run("add", func(t *testing.T) {
		s := New("", nil)

		assert.True(t, s.Admit(record.Record{"_id": "1", "name": "foo"}))

		r, ok := s.Get("1")
		require.True(t, ok)
		assert.Equal(t, record.Record{"_id": "1", "name": "foo"}, r)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("first admission wins", func(t *testing.T) {
		s := New("", nil)

		assert.True(t, s.Admit(record.Record{"_id": "1", "name": "foo"}))
		assert.False(t, s.Admit(record.Record{"_id": "1", "name": "bar"}))

		r, _ := s.Get("1")
		assert.Equal(t, "foo", r["name"])
		assert.Equal(t, 1, s.Len())
	})

	t.Run("idempotent", func(t *testing.T) {
		s := New("", nil)

		assert.True(t, s.Admit(record.Record{"_id": "1"}))
		assert.False(t, s.Admit(record.Record{"_id": "1"}))
		assert.Equal(t, 1, s.Len())
	})

	t.Run("missing key", func(t *testing.T) {
		s := New("", nil)

		assert.False(t, s.Admit(record.Record{"name": "foo"}))
		assert.False(t, s.Admit(record.Record{"_id": ""}))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("rejected by validator", func(t *testing.T) {
		s := New("", record.RequireFields("name"))

		assert.False(t, s.Admit(record.Record{"_id": "1"}))
		assert.True(t, s.Admit(record.Record{"_id": "2", "name": "foo"}))

		_, ok := s.Get("1")
		assert.False(t, ok)
	})

	t.Run("custom index", func(t *testing.T) {
		s := New("id", nil)

		assert.False(t, s.Admit(record.Record{"_id": "1"}))
		assert.True(t, s.Admit(record.Record{"id": "1"}))
		assert.Equal(t, "id", s.IndexBy())
	})

	t.Run("stores copy", func(t *testing.T) {
		s := New("", nil)

		r := record.Record{"_id": "1", "nested": map[string]any{"a": "b"}}
		assert.True(t, s.Admit(r))

		r["name"] = "changed"
		r["nested"].(map[string]any)["a"] = "changed"

		stored, _ := s.Get("1")
		assert.Equal(t, record.Record{
			"_id":    "1",
			"nested": map[string]any{"a": "b"},
		}, stored)
	})

	t.Run("validator cannot mutate", func(t *testing.T) {
		s := New("", func(r record.Record) bool {
			r["injected"] = true
			return true
		})

		assert.True(t, s.Admit(record.Record{"_id": "1"}))

		stored, _ := s.Get("1")
		assert.Equal(t, record.Record{"_id": "1"}, stored)
	})
}

func TestStore_MergeBatch(t *testing.T) {
	t.Run("add new", func(t *testing.T) {
		s := New("", nil)
		s.Admit(record.Record{"_id": "1", "name": "foo"})

		added := s.MergeBatch([]record.Record{
			{"_id": "1", "name": "changed"},
			{"_id": "2", "name": "bar"},
		})
		assert.True(t, added)

		assert.Equal(t, []record.Record{
			{"_id": "1", "name": "foo"},
			{"_id": "2", "name": "bar"},
		}, s.Snapshot())
	})

	t.Run("nothing added", func(t *testing.T) {
		s := New("", nil)
		s.Admit(record.Record{"_id": "1", "name": "foo"})

		assert.False(t, s.MergeBatch([]record.Record{
			{"_id": "1", "name": "changed"},
			{"name": "no key"},
			nil,
		}))
		assert.False(t, s.MergeBatch(nil))
	})

	t.Run("filters invalid", func(t *testing.T) {
		s := New("", record.RequireFields("name"))

		added := s.MergeBatch([]record.Record{
			{"_id": "1"},
			{"_id": "2", "name": "bar"},
		})
		assert.True(t, added)

		_, ok := s.Get("1")
		assert.False(t, ok)
		_, ok = s.Get("2")
		assert.True(t, ok)
	})

	t.Run("first candidate wins", func(t *testing.T) {
		s := New("", nil)

		assert.True(t, s.MergeBatch([]record.Record{
			{"_id": "1", "name": "first"},
			{"_id": "1", "name": "second"},
		}))

		r, _ := s.Get("1")
		assert.Equal(t, "first", r["name"])
	})
}

func TestStore_Query(t *testing.T) {
	s := New("", nil)
	s.Admit(record.Record{"_id": "3", "kind": "a"})
	s.Admit(record.Record{"_id": "1", "kind": "a"})
	s.Admit(record.Record{"_id": "2", "kind": "b"})

	matches := s.Query(func(r record.Record) bool {
		return r["kind"] == "a"
	})
	assert.Equal(t, []record.Record{
		{"_id": "1", "kind": "a"},
		{"_id": "3", "kind": "a"},
	}, matches)

	// Mutating results must not affect the store.
	matches[0]["kind"] = "changed"
	r, _ := s.Get("1")
	assert.Equal(t, "a", r["kind"])

	assert.Len(t, s.Query(nil), 3)
}

func TestStore_Get(t *testing.T) {
	s := New("", nil)
	s.Admit(record.Record{"_id": "1", "name": "foo"})

	r, ok := s.Get("1")
	require.True(t, ok)
	r["name"] = "changed"

	r, _ = s.Get("1")
	assert.Equal(t, "foo", r["name"])

	_, ok = s.Get("2")
	assert.False(t, ok)
}
