package vault

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/alovak/cardholder-vault/vault/models"
	"golang.org/x/exp/slog"
)

// InstrumentService orchestrates instrument mutations with strict ownership:
// every operation verifies the resolved owner against the authenticated
// caller.
type InstrumentService struct {
	store  RecordStore
	caches *Coordinator
	logger *slog.Logger
}

func NewInstrumentService(store RecordStore, caches *Coordinator, logger *slog.Logger) *InstrumentService {
	return &InstrumentService{
		store:  store,
		caches: caches,
		logger: logger.With(slog.String("service", "instruments")),
	}
}

// Create adds an instrument under the caller's own account.
func (s *InstrumentService) Create(ctx context.Context, req models.CreateInstrument, callerID int64) (*models.Instrument, error) {
	if req.AccountID != callerID {
		return nil, &ForbiddenError{Reason: "instruments can only be created under the caller's account"}
	}

	if _, err := s.store.GetAccountByID(ctx, req.AccountID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "account", ID: strconv.FormatInt(req.AccountID, 10)}
		}
		return nil, fmt.Errorf("finding owner account: %w", err)
	}
	if _, err := s.store.GetInstrumentByNumber(ctx, req.Number); err == nil {
		return nil, &ConflictError{Field: "number", Value: req.Number}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("checking number uniqueness: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	instrument := &models.Instrument{
		AccountID:  req.AccountID,
		Number:     req.Number,
		Holder:     req.Holder,
		Expiration: req.Expiration,
	}
	if err := s.store.CreateInstrument(ctx, instrument); err != nil {
		// Concurrent creates can slip past the pre-check; the store constraint
		// reports the same conflict the pre-check would have.
		if errors.Is(err, ErrConflict) {
			return nil, &ConflictError{Field: "number", Value: req.Number}
		}
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "account", ID: strconv.FormatInt(req.AccountID, 10)}
		}
		return nil, fmt.Errorf("creating instrument: %w", err)
	}

	s.caches.InstrumentSaved(instrument, 0)
	s.logger.Info("instrument created",
		slog.Int64("instrument_id", instrument.ID),
		slog.Int64("account_id", instrument.AccountID),
	)

	return instrument, nil
}

// Get serves the cached view when present, verifying ownership either way.
func (s *InstrumentService) Get(ctx context.Context, id int64, callerID int64) (*models.Instrument, error) {
	if instrument, ok := s.caches.Instrument(id); ok {
		if instrument.AccountID != callerID {
			return nil, &ForbiddenError{Reason: "the instrument is owned by another account"}
		}
		return instrument, nil
	}

	instrument, err := s.store.GetInstrumentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "instrument", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("finding instrument: %w", err)
	}
	if instrument.AccountID != callerID {
		return nil, &ForbiddenError{Reason: "the instrument is owned by another account"}
	}

	s.caches.InstrumentFetched(instrument)

	return instrument, nil
}

// GetByIDs returns the instruments for the id set; every one of them must
// belong to the caller.
func (s *InstrumentService) GetByIDs(ctx context.Context, ids []int64, callerID int64) ([]*models.Instrument, error) {
	if len(ids) == 0 {
		return nil, &InvalidRequestError{Reason: "specify instrument ids"}
	}

	instruments, err := s.store.GetInstrumentsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("finding instruments: %w", err)
	}
	if len(instruments) == 0 {
		return nil, &NotFoundError{Entity: "instruments"}
	}
	for _, instrument := range instruments {
		if instrument.AccountID != callerID {
			return nil, &ForbiddenError{Reason: "the instrument is owned by another account"}
		}
	}

	return instruments, nil
}

// Update replaces the instrument's fields, re-checking number uniqueness when
// it changes. The owner stays the caller; the coordinator still receives the
// pre-mutation owner so the owner-changed eviction branch is exercised should
// the store ever reassign.
func (s *InstrumentService) Update(ctx context.Context, id int64, req models.UpdateInstrument, callerID int64) (*models.Instrument, error) {
	existing, err := s.store.GetInstrumentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "instrument", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("finding instrument: %w", err)
	}
	if existing.AccountID != callerID {
		return nil, &ForbiddenError{Reason: "the instrument is owned by another account"}
	}

	if req.Number != existing.Number {
		if _, err := s.store.GetInstrumentByNumber(ctx, req.Number); err == nil {
			return nil, &ConflictError{Field: "number", Value: req.Number}
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("checking number uniqueness: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	updated := &models.Instrument{
		ID:         id,
		AccountID:  existing.AccountID,
		Number:     req.Number,
		Holder:     req.Holder,
		Expiration: req.Expiration,
	}
	if err := s.store.UpdateInstrument(ctx, updated); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, &ConflictError{Field: "number", Value: req.Number}
		}
		if errors.Is(err, ErrNotFound) {
			return nil, &NotFoundError{Entity: "instrument", ID: strconv.FormatInt(id, 10)}
		}
		return nil, fmt.Errorf("updating instrument: %w", err)
	}

	s.caches.InstrumentSaved(updated, existing.AccountID)
	s.logger.Info("instrument updated", slog.Int64("instrument_id", id))

	return updated, nil
}

// Delete removes the caller's instrument and evicts both affected views.
func (s *InstrumentService) Delete(ctx context.Context, id int64, callerID int64) error {
	existing, err := s.store.GetInstrumentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{Entity: "instrument", ID: strconv.FormatInt(id, 10)}
		}
		return fmt.Errorf("finding instrument: %w", err)
	}
	if existing.AccountID != callerID {
		return &ForbiddenError{Reason: "the instrument is owned by another account"}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.store.DeleteInstrument(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{Entity: "instrument", ID: strconv.FormatInt(id, 10)}
		}
		return fmt.Errorf("deleting instrument: %w", err)
	}

	s.caches.InstrumentDeleted(id, existing.AccountID)
	s.logger.Info("instrument deleted", slog.Int64("instrument_id", id))

	return nil
}
