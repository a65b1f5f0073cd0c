package vault

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alovak/cardholder-vault/vault/models"
	"golang.org/x/exp/slog"
)

// AccountService orchestrates account mutations: authorize, validate
// uniqueness, persist, invalidate caches, respond. Reads are served from the
// account-view cache when present.
type AccountService struct {
	store  RecordStore
	caches *Coordinator
	logger *slog.Logger
}

func NewAccountService(store RecordStore, caches *Coordinator, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		caches: caches,
		logger: logger.With(slog.String("service", "accounts")),
	}
}

// Create persists the caller's profile. The account id is the caller's
// identity id, which enforces at most one account per identity.
func (s *AccountService) Create(ctx context.Context, req models.CreateAccount, callerID int64) (*models.Account, error) {
	if _, err := s.store.GetAccountByID(ctx, callerID); err == nil {
		return nil, &ConflictError{Field: "account", Value: strconv.FormatInt(callerID, 10)}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking existing account: %w", err)
	}
	if _, err := s.store.GetAccountByEmail(ctx, req.Email); err == nil {
		return nil, &ConflictError{Field: "email", Value: req.Email}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking email uniqueness: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	account := &models.Account{
		ID:          callerID,
		Name:        req.Name,
		Surname:     req.Surname,
		BirthDate:   req.BirthDate,
		Email:       req.Email,
		Instruments: []*models.Instrument{},
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		// The pre-checks race with concurrent creates; the store constraint is
		// the enforcement and its violation must look like the pre-check.
		if errors.Is(err, ErrConflict) {
			if _, idErr := s.store.GetAccountByID(ctx, callerID); idErr == nil {
				return nil, &ConflictError{Field: "account", Value: strconv.FormatInt(callerID, 10)}
			}
			return nil, &ConflictError{Field: "email", Value: req.Email}
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}

	s.caches.AccountSaved(account)
	s.logger.Info("account created", slog.Int64("account_id", account.ID))

	return account, nil
}

// Get serves the cached view when present; on a miss it re-reads the full
// current state, instruments included, and repopulates the cache.
func (s *AccountService) Get(ctx context.Context, id int64) (*models.Account, error) {
	if account, ok := s.caches.Account(id); ok {
		return account, nil
	}

	account, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "account", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("finding account: %w", err)
	}

	s.caches.AccountFetched(account)

	return account, nil
}

// GetByIDsOrEmail looks accounts up by an id set or by email; the two are
// mutually exclusive.
func (s *AccountService) GetByIDsOrEmail(ctx context.Context, ids []int64, email string) ([]*models.Account, error) {
	if len(ids) > 0 && email != "" {
		return nil, &InvalidRequestError{Reason: "specify account ids or email, not both"}
	}
	if email != "" {
		account, err := s.store.GetAccountByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, &NotFoundError{Entity: "account", ID: email}
			}
			return nil, fmt.Errorf("finding account by email: %w", err)
		}
		return []*models.Account{account}, nil
	}
	if len(ids) > 0 {
		accounts, err := s.store.GetAccountsByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("finding accounts: %w", err)
		}
		if len(accounts) == 0 {
			return nil, &NotFoundError{Entity: "accounts"}
		}
		return accounts, nil
	}
	return nil, &InvalidRequestError{Reason: "specify account ids or email"}
}

// Update replaces the account's fields. Self-service only.
func (s *AccountService) Update(ctx context.Context, id int64, req models.UpdateAccount, callerID int64) (*models.Account, error) {
	if callerID != id {
		return nil, &ForbiddenError{Reason: "the account belongs to another caller"}
	}

	existing, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "account", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("finding account: %w", err)
	}

	if req.Email != existing.Email {
		if _, err := s.store.GetAccountByEmail(ctx, req.Email); err == nil {
			return nil, &ConflictError{Field: "email", Value: req.Email}
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("checking email uniqueness: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	updated := &models.Account{
		ID:          id,
		Name:        req.Name,
		Surname:     req.Surname,
		BirthDate:   req.BirthDate,
		Email:       req.Email,
		Instruments: existing.Instruments,
	}
	if err := s.store.UpdateAccount(ctx, updated); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, &ConflictError{Field: "email", Value: req.Email}
		}
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "account", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("updating account: %w", err)
	}

	s.caches.AccountSaved(updated)
	s.logger.Info("account updated", slog.Int64("account_id", id))

	return updated, nil
}

// Delete removes the account and every instrument it owns, then evicts all
// affected cache entries. Self-service only.
func (s *AccountService) Delete(ctx context.Context, id int64, callerID int64) error {
	if callerID != id {
		return &ForbiddenError{Reason: "the account belongs to another caller"}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	instrumentIDs, err := s.store.DeleteAccountCascading(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{Entity: "account", ID: strconv.FormatInt(id, 10)}
		}
		return fmt.Errorf("deleting account: %w", err)
	}

	s.caches.AccountDeleted(id, instrumentIDs)
	s.logger.Info("account deleted",
		slog.Int64("account_id", id),
		slog.Int("instruments_removed", len(instrumentIDs)),
	)

	return nil
}
