package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOutGroupLifecycle(t *testing.T) {
	group := NewFanOutGroup("42",
		TargetRecord{"source_id": "42", "total": 10.0},
		"invoice_id",
		TargetRecord{"invoice_id": "42", "description": "Consulta"},
		TargetRecord{"invoice_id": "42", "description": "Raio-X"},
	)

	assert.Equal(t, LinkStatePending, group.State())

	require.NoError(t, group.MarkPersisted(101))
	assert.Equal(t, LinkStatePersisted, group.State())
	assert.Equal(t, int64(101), group.TargetID())

	linked, err := group.Link()
	require.NoError(t, err)
	assert.Equal(t, LinkStateLinked, group.State())

	require.Len(t, linked, 2)
	for _, rec := range linked {
		assert.Equal(t, int64(101), rec["invoice_id"])
	}
	// The originals keep their pending reference; Link works on copies.
	assert.Equal(t, "42", group.Secondaries[0]["invoice_id"])
}

func TestFanOutGroupRejectsOutOfOrderTransitions(t *testing.T) {
	group := NewFanOutGroup("42", TargetRecord{"source_id": "42"}, "")

	_, err := group.Link()
	require.Error(t, err, "linking before the primary persisted must fail")

	require.NoError(t, group.MarkPersisted(7))
	assert.Error(t, group.MarkPersisted(8), "a group persists exactly once")

	_, err = group.Link()
	require.NoError(t, err)
	_, err = group.Link()
	assert.Error(t, err, "a group links exactly once")
}

func TestFanOutGroupWithoutSecondaries(t *testing.T) {
	group := NewFanOutGroup("7", TargetRecord{"source_id": "7"}, "")

	require.NoError(t, group.MarkPersisted(70))
	linked, err := group.Link()
	require.NoError(t, err)
	assert.Empty(t, linked)
	assert.Equal(t, LinkStateLinked, group.State())
}
