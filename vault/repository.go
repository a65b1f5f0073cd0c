package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/alovak/cardholder-vault/vault/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

var ErrNotFound = fmt.Errorf("not found")
var ErrConflict = fmt.Errorf("conflict")

// RecordStore is the transactional system of record consumed by the services.
// Uniqueness violations surface as ErrConflict, missing rows as ErrNotFound.
type RecordStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
	GetAccountsByIDs(ctx context.Context, ids []int64) ([]*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error
	DeleteAccountCascading(ctx context.Context, id int64) ([]int64, error)

	CreateInstrument(ctx context.Context, instrument *models.Instrument) error
	GetInstrumentByID(ctx context.Context, id int64) (*models.Instrument, error)
	GetInstrumentsByIDs(ctx context.Context, ids []int64) ([]*models.Instrument, error)
	GetInstrumentByNumber(ctx context.Context, number string) (*models.Instrument, error)
	UpdateInstrument(ctx context.Context, instrument *models.Instrument) error
	DeleteInstrument(ctx context.Context, id int64) error
}

// Repository implements RecordStore with two backends: Postgres for runtime and
// an in-memory store (db == nil) for tests.
type Repository struct {
	db *sql.DB

	mu            sync.RWMutex
	accounts      map[int64]*models.Account
	instruments   map[int64]*models.Instrument
	instrumentIDs []int64 // creation order
	instrumentSeq int64
}

func NewRepository() *Repository {
	return &Repository{
		accounts:    make(map[int64]*models.Account),
		instruments: make(map[int64]*models.Instrument),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateAccount(ctx context.Context, account *models.Account) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.accounts[account.ID]; ok {
			return fmt.Errorf("account %d exists: %w", account.ID, ErrConflict)
		}
		for _, a := range r.accounts {
			if a.Email == account.Email {
				return fmt.Errorf("email exists: %w", ErrConflict)
			}
		}
		r.accounts[account.ID] = cloneAccountBase(account)
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO vault.accounts(account_id, name, surname, birth_date, email)
        VALUES ($1,$2,$3,$4,$5)
    `, account.ID, account.Name, account.Surname, account.BirthDate, account.Email)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetAccountByID loads the account together with its owned instruments in
// insertion order.
func (r *Repository) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		account, ok := r.accounts[id]
		if !ok {
			return nil, ErrNotFound
		}
		return r.composeAccountLocked(account), nil
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT account_id, name, surname, birth_date, email FROM vault.accounts WHERE account_id=$1
    `, id)
	account := &models.Account{}
	if err := row.Scan(&account.ID, &account.Name, &account.Surname, &account.BirthDate, &account.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	instruments, err := r.queryInstruments(ctx, `WHERE account_id=$1`, id)
	if err != nil {
		return nil, err
	}
	account.Instruments = instruments
	return account, nil
}

func (r *Repository) GetAccountsByIDs(ctx context.Context, ids []int64) ([]*models.Account, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Account
		for _, id := range ids {
			if account, ok := r.accounts[id]; ok {
				out = append(out, r.composeAccountLocked(account))
			}
		}
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
        SELECT account_id, name, surname, birth_date, email FROM vault.accounts
        WHERE account_id = ANY($1) ORDER BY account_id
    `, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Account
	byID := make(map[int64]*models.Account)
	for rows.Next() {
		account := &models.Account{Instruments: []*models.Instrument{}}
		if err := rows.Scan(&account.ID, &account.Name, &account.Surname, &account.BirthDate, &account.Email); err != nil {
			return nil, err
		}
		out = append(out, account)
		byID[account.ID] = account
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	instruments, err := r.queryInstruments(ctx, `WHERE account_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	for _, instrument := range instruments {
		owner := byID[instrument.AccountID]
		owner.Instruments = append(owner.Instruments, instrument)
	}
	return out, nil
}

func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, account := range r.accounts {
			if account.Email == email {
				return r.composeAccountLocked(account), nil
			}
		}
		return nil, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT account_id, name, surname, birth_date, email FROM vault.accounts WHERE email=$1
    `, email)
	account := &models.Account{}
	if err := row.Scan(&account.ID, &account.Name, &account.Surname, &account.BirthDate, &account.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	instruments, err := r.queryInstruments(ctx, `WHERE account_id=$1`, account.ID)
	if err != nil {
		return nil, err
	}
	account.Instruments = instruments
	return account, nil
}

func (r *Repository) UpdateAccount(ctx context.Context, account *models.Account) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		existing, ok := r.accounts[account.ID]
		if !ok {
			return ErrNotFound
		}
		for id, a := range r.accounts {
			if id != account.ID && a.Email == account.Email {
				return fmt.Errorf("email exists: %w", ErrConflict)
			}
		}
		existing.Name = account.Name
		existing.Surname = account.Surname
		existing.BirthDate = account.BirthDate
		existing.Email = account.Email
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE vault.accounts SET name=$2, surname=$3, birth_date=$4, email=$5 WHERE account_id=$1
    `, account.ID, account.Name, account.Surname, account.BirthDate, account.Email)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccountCascading removes the account's instruments and then the account
// itself in one transaction. It returns the deleted instrument ids so callers
// can invalidate their cache entries.
func (r *Repository) DeleteAccountCascading(ctx context.Context, id int64) ([]int64, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.accounts[id]; !ok {
			return nil, ErrNotFound
		}
		var deleted []int64
		remaining := r.instrumentIDs[:0]
		for _, instrumentID := range r.instrumentIDs {
			if r.instruments[instrumentID].AccountID == id {
				deleted = append(deleted, instrumentID)
				delete(r.instruments, instrumentID)
				continue
			}
			remaining = append(remaining, instrumentID)
		}
		r.instrumentIDs = remaining
		delete(r.accounts, id)
		return deleted, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
        SELECT instrument_id FROM vault.instruments WHERE account_id=$1 ORDER BY instrument_id
    `, id)
	if err != nil {
		return nil, err
	}
	var deleted []int64
	for rows.Next() {
		var instrumentID int64
		if err := rows.Scan(&instrumentID); err != nil {
			rows.Close()
			return nil, err
		}
		deleted = append(deleted, instrumentID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vault.instruments WHERE account_id=$1`, id); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM vault.accounts WHERE account_id=$1`, id)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *Repository) CreateInstrument(ctx context.Context, instrument *models.Instrument) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.accounts[instrument.AccountID]; !ok {
			return fmt.Errorf("owner account %d: %w", instrument.AccountID, ErrNotFound)
		}
		for _, existing := range r.instruments {
			if existing.Number == instrument.Number {
				return fmt.Errorf("number exists: %w", ErrConflict)
			}
		}
		r.instrumentSeq++
		instrument.ID = r.instrumentSeq
		r.instruments[instrument.ID] = cloneInstrument(instrument)
		r.instrumentIDs = append(r.instrumentIDs, instrument.ID)
		return nil
	}
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO vault.instruments(account_id, number, holder, expiration)
        VALUES ($1,$2,$3,$4) RETURNING instrument_id
    `, instrument.AccountID, instrument.Number, instrument.Holder, instrument.Expiration)
	err := row.Scan(&instrument.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	return err
}

func (r *Repository) GetInstrumentByID(ctx context.Context, id int64) (*models.Instrument, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		instrument, ok := r.instruments[id]
		if !ok {
			return nil, ErrNotFound
		}
		return cloneInstrument(instrument), nil
	}
	instruments, err := r.queryInstruments(ctx, `WHERE instrument_id=$1`, id)
	if err != nil {
		return nil, err
	}
	if len(instruments) == 0 {
		return nil, ErrNotFound
	}
	return instruments[0], nil
}

func (r *Repository) GetInstrumentsByIDs(ctx context.Context, ids []int64) ([]*models.Instrument, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Instrument
		for _, id := range ids {
			if instrument, ok := r.instruments[id]; ok {
				out = append(out, cloneInstrument(instrument))
			}
		}
		return out, nil
	}
	return r.queryInstruments(ctx, `WHERE instrument_id = ANY($1)`, pq.Array(ids))
}

func (r *Repository) GetInstrumentByNumber(ctx context.Context, number string) (*models.Instrument, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, id := range r.instrumentIDs {
			if r.instruments[id].Number == number {
				return cloneInstrument(r.instruments[id]), nil
			}
		}
		return nil, ErrNotFound
	}
	instruments, err := r.queryInstruments(ctx, `WHERE number=$1`, number)
	if err != nil {
		return nil, err
	}
	if len(instruments) == 0 {
		return nil, ErrNotFound
	}
	return instruments[0], nil
}

func (r *Repository) UpdateInstrument(ctx context.Context, instrument *models.Instrument) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		existing, ok := r.instruments[instrument.ID]
		if !ok {
			return ErrNotFound
		}
		for id, other := range r.instruments {
			if id != instrument.ID && other.Number == instrument.Number {
				return fmt.Errorf("number exists: %w", ErrConflict)
			}
		}
		if _, ok := r.accounts[instrument.AccountID]; !ok {
			return fmt.Errorf("owner account %d: %w", instrument.AccountID, ErrNotFound)
		}
		existing.AccountID = instrument.AccountID
		existing.Number = instrument.Number
		existing.Holder = instrument.Holder
		existing.Expiration = instrument.Expiration
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE vault.instruments SET account_id=$2, number=$3, holder=$4, expiration=$5 WHERE instrument_id=$1
    `, instrument.ID, instrument.AccountID, instrument.Number, instrument.Holder, instrument.Expiration)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteInstrument(ctx context.Context, id int64) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.instruments[id]; !ok {
			return ErrNotFound
		}
		delete(r.instruments, id)
		remaining := r.instrumentIDs[:0]
		for _, instrumentID := range r.instrumentIDs {
			if instrumentID != id {
				remaining = append(remaining, instrumentID)
			}
		}
		r.instrumentIDs = remaining
		return nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM vault.instruments WHERE instrument_id=$1`, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping returns DB readiness.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func (r *Repository) queryInstruments(ctx context.Context, where string, args ...any) ([]*models.Instrument, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT instrument_id, account_id, number, holder, expiration FROM vault.instruments
    `+where+` ORDER BY instrument_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*models.Instrument{}
	for rows.Next() {
		instrument := &models.Instrument{}
		if err := rows.Scan(&instrument.ID, &instrument.AccountID, &instrument.Number, &instrument.Holder, &instrument.Expiration); err != nil {
			return nil, err
		}
		out = append(out, instrument)
	}
	return out, rows.Err()
}

// composeAccountLocked joins the account with its instruments in creation
// order. Callers hold r.mu.
func (r *Repository) composeAccountLocked(account *models.Account) *models.Account {
	out := cloneAccountBase(account)
	out.Instruments = []*models.Instrument{}
	for _, id := range r.instrumentIDs {
		if r.instruments[id].AccountID == account.ID {
			out.Instruments = append(out.Instruments, cloneInstrument(r.instruments[id]))
		}
	}
	return out
}

func cloneAccountBase(account *models.Account) *models.Account {
	return &models.Account{
		ID:        account.ID,
		Name:      account.Name,
		Surname:   account.Surname,
		BirthDate: account.BirthDate,
		Email:     account.Email,
	}
}

func cloneInstrument(instrument *models.Instrument) *models.Instrument {
	out := *instrument
	return &out
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23503" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23503" {
		return true
	}
	return false
}
