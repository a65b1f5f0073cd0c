package vault

import (
	"context"
	"io"
	"testing"

	"github.com/alovak/cardholder-vault/internal/cache"
	"github.com/alovak/cardholder-vault/vault/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

// countingStore wraps a RecordStore and counts reads so tests can assert how
// often the system of record is actually hit.
type countingStore struct {
	RecordStore
	accountReads    int
	instrumentReads int
}

func (c *countingStore) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	c.accountReads++
	return c.RecordStore.GetAccountByID(ctx, id)
}

func (c *countingStore) GetInstrumentByID(ctx context.Context, id int64) (*models.Instrument, error) {
	c.instrumentReads++
	return c.RecordStore.GetInstrumentByID(ctx, id)
}

type fixture struct {
	store       *countingStore
	caches      *Coordinator
	accounts    *AccountService
	instruments *InstrumentService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func newFixture() *fixture {
	store := &countingStore{RecordStore: NewRepository()}
	caches := NewCoordinator(cache.New(0))
	logger := testLogger()
	return &fixture{
		store:       store,
		caches:      caches,
		accounts:    NewAccountService(store, caches, logger),
		instruments: NewInstrumentService(store, caches, logger),
	}
}

var annReq = models.CreateAccount{
	Name:      "Ann",
	Surname:   "Lee",
	BirthDate: "1990-01-01",
	Email:     "ann@x.com",
}

func TestAccountCreateAndGet(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	account, err := f.accounts.Create(ctx, annReq, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), account.ID)

	got, err := f.accounts.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Ann", got.Name)
	require.Equal(t, "Lee", got.Surname)
	require.Equal(t, "1990-01-01", got.BirthDate)
	require.Equal(t, "ann@x.com", got.Email)
	require.Empty(t, got.Instruments)
}

func TestAccountCreateOnePerIdentity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.accounts.Create(ctx, annReq, 1)
	require.NoError(t, err)

	_, err = f.accounts.Create(ctx, models.CreateAccount{Name: "Ann", Surname: "Lee", Email: "other@x.com"}, 1)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "account", conflict.Field)
}

func TestAccountCreateDuplicateEmail(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.accounts.Create(ctx, annReq, 1)
	require.NoError(t, err)

	_, err = f.accounts.Create(ctx, models.CreateAccount{Name: "Bob", Surname: "Roy", Email: "ann@x.com"}, 2)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "email", conflict.Field)
	require.Equal(t, "ann@x.com", conflict.Value)
}

// racingAccountStore simulates a concurrent writer landing between the
// uniqueness pre-check and the commit: mutations report a storage-level
// conflict even though the pre-check saw none.
type racingAccountStore struct {
	RecordStore
	persistFirst bool
}

func (r *racingAccountStore) CreateAccount(ctx context.Context, account *models.Account) error {
	if r.persistFirst {
		if err := r.RecordStore.CreateAccount(ctx, account); err != nil {
			return err
		}
	}
	return ErrConflict
}

func (r *racingAccountStore) UpdateAccount(ctx context.Context, account *models.Account) error {
	return ErrConflict
}

func newRacedAccountService(store RecordStore) *AccountService {
	return NewAccountService(store, NewCoordinator(cache.New(0)), testLogger())
}

func TestAccountCreateConflictAfterPreCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("identity row won the race", func(t *testing.T) {
		accounts := newRacedAccountService(&racingAccountStore{RecordStore: NewRepository(), persistFirst: true})

		_, err := accounts.Create(ctx, annReq, 1)
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, "account", conflict.Field)
	})

	t.Run("email row won the race", func(t *testing.T) {
		accounts := newRacedAccountService(&racingAccountStore{RecordStore: NewRepository()})

		_, err := accounts.Create(ctx, annReq, 1)
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, "email", conflict.Field)
		require.Equal(t, "ann@x.com", conflict.Value)
	})
}

func TestAccountUpdateConflictAfterPreCheck(t *testing.T) {
	ctx := context.Background()

	repo := NewRepository()
	require.NoError(t, repo.CreateAccount(ctx, &models.Account{
		ID: 1, Name: "Ann", Surname: "Lee", Email: "ann@x.com",
	}))
	accounts := newRacedAccountService(&racingAccountStore{RecordStore: repo})

	_, err := accounts.Update(ctx, 1, models.UpdateAccount{Name: "Ann", Surname: "Lee", Email: "ann@y.com"}, 1)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "email", conflict.Field)
	require.Equal(t, "ann@y.com", conflict.Value)
}

func TestAccountGetNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.accounts.Get(context.Background(), 99)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "account", notFound.Entity)
}

// Two reads in a row without an intervening mutation hit the record store at
// most once; the second is served from cache.
func TestAccountGetReadsStoreOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.accounts.Create(ctx, annReq, 1)
	require.NoError(t, err)

	// evict the write-through entry so the first read is a genuine miss
	f.caches.AccountDeleted(1, nil)

	before := f.store.accountReads
	_, err = f.accounts.Get(ctx, 1)
	require.NoError(t, err)
	_, err = f.accounts.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, f.store.accountReads-before)
}

func TestAccountGetByIDsOrEmail(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.accounts.Create(ctx, annReq, 1)
	require.NoError(t, err)

	t.Run("both is invalid", func(t *testing.T) {
		_, err := f.accounts.GetByIDsOrEmail(ctx, []int64{1}, "ann@x.com")
		var invalid *InvalidRequestError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("neither is invalid", func(t *testing.T) {
		_, err := f.accounts.GetByIDsOrEmail(ctx, nil, "")
		var invalid *InvalidRequestError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("by email", func(t *testing.T) {
		accounts, err := f.accounts.GetByIDsOrEmail(ctx, nil, "ann@x.com")
		require.NoError(t, err)
		require.Len(t, accounts, 1)
		require.Equal(t, int64(1), accounts[0].ID)
	})

	t.Run("by ids", func(t *testing.T) {
		accounts, err := f.accounts.GetByIDsOrEmail(ctx, []int64{1, 99}, "")
		require.NoError(t, err)
		require.Len(t, accounts, 1)
	})

	t.Run("empty result", func(t *testing.T) {
		_, err := f.accounts.GetByIDsOrEmail(ctx, []int64{98, 99}, "")
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestAccountUpdate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.accounts.Create(ctx, annReq, 1)
	require.NoError(t, err)

	t.Run("self-service only", func(t *testing.T) {
		_, err := f.accounts.Update(ctx, 1, models.UpdateAccount{Email: "ann@x.com"}, 2)
		var forbidden *ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := f.accounts.Update(ctx, 9, models.UpdateAccount{Email: "x@x.com"}, 9)
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("email collision", func(t *testing.T) {
		_, err := f.accounts.Create(ctx, models.CreateAccount{Name: "Bob", Surname: "Roy", Email: "bob@x.com"}, 2)
		require.NoError(t, err)

		_, err = f.accounts.Update(ctx, 1, models.UpdateAccount{Name: "Ann", Surname: "Lee", Email: "bob@x.com"}, 1)
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, "email", conflict.Field)
	})

	t.Run("success writes through the cache", func(t *testing.T) {
		updated, err := f.accounts.Update(ctx, 1, models.UpdateAccount{Name: "Ann", Surname: "Lee", Email: "ann@y.com"}, 1)
		require.NoError(t, err)
		require.Equal(t, "ann@y.com", updated.Email)

		before := f.store.accountReads
		got, err := f.accounts.Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, "ann@y.com", got.Email)
		require.Equal(t, before, f.store.accountReads, "updated view must come from cache")
	})
}

func TestAccountDeleteCascades(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.accounts.Create(ctx, annReq, 1)
	require.NoError(t, err)
	first, err := f.instruments.Create(ctx, models.CreateInstrument{
		AccountID: 1, Number: "1111222233334444", Holder: "ANN LEE", Expiration: "03/27",
	}, 1)
	require.NoError(t, err)
	second, err := f.instruments.Create(ctx, models.CreateInstrument{
		AccountID: 1, Number: "5555666677778888", Holder: "ANN LEE", Expiration: "04/28",
	}, 1)
	require.NoError(t, err)

	t.Run("self-service only", func(t *testing.T) {
		err := f.accounts.Delete(ctx, 1, 2)
		var forbidden *ForbiddenError
		require.ErrorAs(t, err, &forbidden)
	})

	require.NoError(t, f.accounts.Delete(ctx, 1, 1))

	_, err = f.accounts.Get(ctx, 1)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)

	for _, id := range []int64{first.ID, second.ID} {
		_, ok := f.caches.Instrument(id)
		require.False(t, ok, "cascade must evict instrument views")
		_, err = f.instruments.Get(ctx, id, 1)
		require.ErrorAs(t, err, &notFound)
	}

	t.Run("delete twice", func(t *testing.T) {
		err := f.accounts.Delete(ctx, 1, 1)
		require.ErrorAs(t, err, &notFound)
	})
}

func TestAccountMutationAbortsOnCancelledContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.accounts.Create(ctx, annReq, 1)
	require.ErrorIs(t, err, context.Canceled)

	// nothing persisted, nothing cached
	_, getErr := f.accounts.Get(context.Background(), 1)
	var notFound *NotFoundError
	require.ErrorAs(t, getErr, &notFound)
}
