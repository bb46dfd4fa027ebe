// Package book implements the isolated capital/risk ledgers of spec §3:
// HEDGE, PROP, and MEME books. Grounded on original_source's
// meme_venture.py treatment of meme-coin ventures as a physically separate,
// compliance-gated risk category, the registry keeps MEME entries in a
// distinct map and mutex from HEDGE/PROP so a coding error cannot fold
// MEME exposure or PnL into the limits or allocations of other books.
package book

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tradectl/controlplane/internal/types"
)

// Registry holds every Book, keyed by ID, with MEME entries physically
// partitioned from HEDGE/PROP entries (spec §3 invariant, testable
// property 5).
type Registry struct {
	mu       sync.RWMutex
	standard map[string]*types.Book // HEDGE, PROP

	memeMu sync.RWMutex
	meme   map[string]*types.Book
}

func NewRegistry() *Registry {
	return &Registry{
		standard: make(map[string]*types.Book),
		meme:     make(map[string]*types.Book),
	}
}

// Register adds or replaces a book, routing it to the correct partition by
// Type.
func (r *Registry) Register(b types.Book) {
	if b.Type == types.BookMeme {
		r.memeMu.Lock()
		defer r.memeMu.Unlock()
		r.meme[b.ID] = &b
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.standard[b.ID] = &b
}

// Get returns a copy of the book with the given ID.
func (r *Registry) Get(id string) (types.Book, bool) {
	if b, ok := r.lookupMeme(id); ok {
		return b, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.standard[id]
	if !ok {
		return types.Book{}, false
	}
	return *b, true
}

func (r *Registry) lookupMeme(id string) (types.Book, bool) {
	r.memeMu.RLock()
	defer r.memeMu.RUnlock()
	b, ok := r.meme[id]
	if !ok {
		return types.Book{}, false
	}
	return *b, true
}

// ApplyPnL books a realized PnL delta against bookID's exposure. MEME
// losses never touch the standard partition, and vice versa -- there is no
// code path here that can cross the boundary.
func (r *Registry) ApplyPnL(bookID string, pnl decimal.Decimal) error {
	if b, ok := r.memeBook(bookID); ok {
		b.CurrentExposure = b.CurrentExposure.Add(pnl.Neg())
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.standard[bookID]
	if !ok {
		return fmt.Errorf("book %s: not registered", bookID)
	}
	b.CurrentExposure = b.CurrentExposure.Add(pnl.Neg())
	return nil
}

func (r *Registry) memeBook(id string) (*types.Book, bool) {
	r.memeMu.Lock()
	defer r.memeMu.Unlock()
	b, ok := r.meme[id]
	return b, ok
}

// StandardExposure sums CurrentExposure across every non-MEME book only
// (spec testable property 5: a MEME loss must never reduce another book's
// budget). This is the figure the Risk agent's
// max_portfolio_exposure_usd check and Capital-Allocation's risk budgets
// must read -- never TotalExposure, which does not exist as a combined
// figure precisely to prevent that mistake.
func (r *Registry) StandardExposure() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := decimal.Zero
	for _, b := range r.standard {
		total = total.Add(b.CurrentExposure)
	}
	return total
}

// MemeExposure sums CurrentExposure across MEME books only, reported
// separately for MEME-specific monitoring.
func (r *Registry) MemeExposure() decimal.Decimal {
	r.memeMu.RLock()
	defer r.memeMu.RUnlock()
	total := decimal.Zero
	for _, b := range r.meme {
		total = total.Add(b.CurrentExposure)
	}
	return total
}

// SetStatus updates a book's status (e.g. halted, reduce_only) in place.
func (r *Registry) SetStatus(bookID string, status types.BookStatus) error {
	if b, ok := r.memeBook(bookID); ok {
		b.Status = status
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.standard[bookID]
	if !ok {
		return fmt.Errorf("book %s: not registered", bookID)
	}
	b.Status = status
	return nil
}
