package vault

import (
	"strconv"

	"github.com/alovak/cardholder-vault/internal/cache"
	"github.com/alovak/cardholder-vault/vault/models"
)

const (
	accountNamespace    = "account-view"
	instrumentNamespace = "instrument-view"
)

// Coordinator owns the cross-entity invalidation rules between the two view
// caches. Services call it synchronously after every record store commit and
// before returning, so a caller never observes new store state paired with old
// cache state longer than that window.
//
// An account view is a denormalized join (it embeds the owned instruments), so
// instrument mutations evict it for recompute on next read. Direct account and
// instrument writes are written through, the fresh value is already in hand.
type Coordinator struct {
	store *cache.Store
}

func NewCoordinator(store *cache.Store) *Coordinator {
	return &Coordinator{store: store}
}

// Account returns the cached account view, if any.
func (c *Coordinator) Account(id int64) (*models.Account, bool) {
	v, ok := c.store.Get(accountNamespace, cacheKey(id))
	if !ok {
		return nil, false
	}
	account, ok := v.(*models.Account)
	return account, ok
}

// Instrument returns the cached instrument view, if any.
func (c *Coordinator) Instrument(id int64) (*models.Instrument, bool) {
	v, ok := c.store.Get(instrumentNamespace, cacheKey(id))
	if !ok {
		return nil, false
	}
	instrument, ok := v.(*models.Instrument)
	return instrument, ok
}

// AccountFetched populates the account view after a read-through miss.
func (c *Coordinator) AccountFetched(account *models.Account) {
	c.store.Put(accountNamespace, cacheKey(account.ID), account)
}

// InstrumentFetched populates the instrument view after a read-through miss.
func (c *Coordinator) InstrumentFetched(instrument *models.Instrument) {
	c.store.Put(instrumentNamespace, cacheKey(instrument.ID), instrument)
}

// AccountSaved writes the fresh account view through after a create or update.
func (c *Coordinator) AccountSaved(account *models.Account) {
	c.store.Put(accountNamespace, cacheKey(account.ID), account)
}

// AccountDeleted evicts the account view and the view of every instrument the
// cascade removed.
func (c *Coordinator) AccountDeleted(id int64, instrumentIDs []int64) {
	for _, instrumentID := range instrumentIDs {
		c.store.Evict(instrumentNamespace, cacheKey(instrumentID))
	}
	c.store.Evict(accountNamespace, cacheKey(id))
}

// InstrumentSaved writes the instrument view through and evicts the owner's
// account view. When ownership moved, prevOwnerID names the previous owner and
// both owners' views are evicted.
func (c *Coordinator) InstrumentSaved(instrument *models.Instrument, prevOwnerID int64) {
	c.store.Put(instrumentNamespace, cacheKey(instrument.ID), instrument)
	c.store.Evict(accountNamespace, cacheKey(instrument.AccountID))
	if prevOwnerID != 0 && prevOwnerID != instrument.AccountID {
		c.store.Evict(accountNamespace, cacheKey(prevOwnerID))
	}
}

// InstrumentDeleted evicts the instrument view and its owner's account view.
func (c *Coordinator) InstrumentDeleted(id, ownerID int64) {
	c.store.Evict(instrumentNamespace, cacheKey(id))
	c.store.Evict(accountNamespace, cacheKey(ownerID))
}

func cacheKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
