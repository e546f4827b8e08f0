package mediacache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediacache"
)

func TestMemoryNotifier_RecordsHistoryPerID(t *testing.T) {
	n := mediacache.NewMemoryNotifier()

	id := n.Notify(mediacache.Notice{Message: "Preparing…", Variant: mediacache.VariantInfo, Duration: -1})
	n.Update(id, mediacache.Notice{Message: "Fetched 5/10…", Variant: mediacache.VariantInfo})
	n.Update(id, mediacache.Notice{Message: "Downloaded 10/10 images", Variant: mediacache.VariantSuccess})

	hist := n.History(id)
	require.Len(t, hist, 3)
	assert.Equal(t, "Preparing…", hist[0].Message)
	assert.Equal(t, mediacache.VariantSuccess, hist[2].Variant)

	last, ok := n.Last(id)
	require.True(t, ok)
	assert.Equal(t, "Downloaded 10/10 images", last.Message)
}

func TestMemoryNotifier_IDsInCreationOrder(t *testing.T) {
	n := mediacache.NewMemoryNotifier()

	first := n.Notify(mediacache.Notice{Message: "one"})
	second := n.Notify(mediacache.Notice{Message: "two"})

	assert.NotEqual(t, first, second)
	assert.Equal(t, []string{first, second}, n.IDs())
}

func TestMemoryNotifier_LastOnUnknownID(t *testing.T) {
	n := mediacache.NewMemoryNotifier()
	_, ok := n.Last("missing")
	assert.False(t, ok)
}
