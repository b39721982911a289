package matching

import (
	"testing"

	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameIndex(t *testing.T) {
	index := NewNameIndex()

	smithID := uuid.New()
	index.Insert(entity.KindPerson, "john smith", smithID)
	index.Insert(entity.KindPerson, "john smithson", uuid.New())
	index.Insert(entity.KindPerson, "jane doe", uuid.New())
	index.Insert(entity.KindVendor, "john deere", uuid.New())

	t.Run("prefix lookup is kind-scoped", func(t *testing.T) {
		entries := index.LookupPrefix(entity.KindPerson, "john", 10)
		require.Len(t, entries, 2)
		assert.Equal(t, "john smith", entries[0].CanonicalName)
		assert.Equal(t, smithID, entries[0].EntityID)
		assert.Equal(t, "john smithson", entries[1].CanonicalName)
	})

	t.Run("limit caps results", func(t *testing.T) {
		entries := index.LookupPrefix(entity.KindPerson, "john", 1)
		assert.Len(t, entries, 1)
	})

	t.Run("no match returns empty", func(t *testing.T) {
		assert.Empty(t, index.LookupPrefix(entity.KindPerson, "zeb", 10))
	})

	t.Run("empty names are not indexed", func(t *testing.T) {
		index.Insert(entity.KindPerson, "", uuid.New())
		assert.Equal(t, 3, index.Len(entity.KindPerson))
	})

	t.Run("remove drops the entry", func(t *testing.T) {
		index.Remove(entity.KindPerson, "john smith")

		entries := index.LookupPrefix(entity.KindPerson, "john", 10)
		require.Len(t, entries, 1)
		assert.Equal(t, "john smithson", entries[0].CanonicalName)

		// Reactivation reinserts.
		index.Insert(entity.KindPerson, "john smith", smithID)
		assert.Len(t, index.LookupPrefix(entity.KindPerson, "john", 10), 2)
	})

	t.Run("load seeds from profiles", func(t *testing.T) {
		fresh := NewNameIndex()
		fresh.Load([]*entity.Profile{
			{ID: uuid.New(), Kind: entity.KindVendor, CanonicalName: "ferguson supply"},
			{ID: uuid.New(), Kind: entity.KindVendor, CanonicalName: "ferguson electric"},
		})
		assert.Len(t, fresh.LookupPrefix(entity.KindVendor, "ferguson", 10), 2)
	})
}
