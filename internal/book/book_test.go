package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradectl/controlplane/internal/types"
)

func TestRegistry_MemeIsolation(t *testing.T) {
	r := NewRegistry()
	r.Register(types.Book{ID: "prop-1", Type: types.BookProp, CapitalAllocated: decimal.NewFromInt(1_000_000)})
	r.Register(types.Book{ID: "meme-1", Type: types.BookMeme, CapitalAllocated: decimal.NewFromInt(50_000)})

	require.NoError(t, r.ApplyPnL("meme-1", decimal.NewFromInt(-50_000))) // synthetic 100% loss

	assert.True(t, r.StandardExposure().IsZero(), "a MEME loss must not move the standard-book exposure")
	assert.False(t, r.MemeExposure().IsZero())

	propBefore := r.StandardExposure()
	require.NoError(t, r.ApplyPnL("prop-1", decimal.NewFromInt(10_000)))
	assert.True(t, r.StandardExposure().LessThan(propBefore))
}

func TestRegistry_ApplyPnLUnknownBook(t *testing.T) {
	r := NewRegistry()
	err := r.ApplyPnL("missing", decimal.NewFromInt(1))
	assert.Error(t, err)
}

func TestRegistry_GetRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Register(types.Book{ID: "hedge-1", Type: types.BookHedge})
	b, ok := r.Get("hedge-1")
	require.True(t, ok)
	assert.Equal(t, types.BookHedge, b.Type)

	_, ok = r.Get("nope")
	assert.False(t, ok)
}
