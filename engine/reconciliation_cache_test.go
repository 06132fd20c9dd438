package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
)

func TestCacheKeyIgnoresOrder(t *testing.T) {
	cache := NewReconciliationCache()

	a := cache.Key("doctors", []string{"1", "2", "3"}, []string{"x", "y"})
	b := cache.Key("doctors", []string{"3", "1", "2"}, []string{"y", "x"})

	assert.Equal(t, a, b, "the key depends on set membership, not ordering")
}

func TestCacheKeySeparatesInputs(t *testing.T) {
	cache := NewReconciliationCache()

	base := cache.Key("doctors", []string{"1", "2"}, []string{"x"})

	assert.NotEqual(t, base, cache.Key("categories", []string{"1", "2"}, []string{"x"}))
	assert.NotEqual(t, base, cache.Key("doctors", []string{"1"}, []string{"x"}))
	assert.NotEqual(t, base, cache.Key("doctors", []string{"1", "2"}, []string{"y"}))
	assert.NotEqual(t, base, cache.Key("doctors", []string{"1", "2", "x"}, []string{}),
		"moving a key between collections must change the cache key")
}

func TestCachePutGet(t *testing.T) {
	cache := NewReconciliationCache()
	key := cache.Key("doctors", []string{"1"}, []string{"x"})

	_, ok := cache.Get(key)
	assert.False(t, ok)

	mapping := &entity.ReconciliationMapping{EntityType: "doctors", Mapper: map[string]int64{"1": 10}}
	cache.Put(key, mapping)

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Same(t, mapping, got)
	assert.Equal(t, 1, cache.Len())
}

func TestCacheClearEntity(t *testing.T) {
	cache := NewReconciliationCache()
	doctors := cache.Key("doctors", []string{"1"}, nil)
	categories := cache.Key("categories", []string{"1"}, nil)
	cache.Put(doctors, &entity.ReconciliationMapping{EntityType: "doctors"})
	cache.Put(categories, &entity.ReconciliationMapping{EntityType: "categories"})

	cache.ClearEntity("doctors")

	_, ok := cache.Get(doctors)
	assert.False(t, ok)
	_, ok = cache.Get(categories)
	assert.True(t, ok)

	cache.Clear()
	assert.Zero(t, cache.Len())
}
