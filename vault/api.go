package vault

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alovak/cardholder-vault/internal/expiry"
	"github.com/alovak/cardholder-vault/internal/middleware"
	"github.com/alovak/cardholder-vault/vault/models"
	"github.com/go-chi/chi/v5"
)

// API is the HTTP surface over the account and instrument services.
type API struct {
	accounts    *AccountService
	instruments *InstrumentService
}

func NewAPI(accounts *AccountService, instruments *InstrumentService) *API {
	return &API{
		accounts:    accounts,
		instruments: instruments,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/api/accounts", func(r chi.Router) {
		r.Post("/", a.createAccount)
		r.Get("/", a.getAccountsByIDsOrEmail)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", a.getAccount)
			r.Put("/", a.updateAccount)
			r.Delete("/", a.deleteAccount)
		})
	})
	r.Route("/api/instruments", func(r chi.Router) {
		r.Post("/", a.createInstrument)
		r.Get("/", a.getInstrumentsByIDs)
		r.Route("/{instrumentID}", func(r chi.Router) {
			r.Get("/", a.getInstrument)
			r.Put("/", a.updateInstrument)
			r.Delete("/", a.deleteInstrument)
		})
	})
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	req := models.CreateAccount{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &InvalidRequestError{Reason: err.Error()})
		return
	}
	if err := validateAccountFields(req.Name, req.Surname, req.Email, req.BirthDate); err != nil {
		writeError(w, err)
		return
	}

	account, err := a.accounts.Create(r.Context(), req, caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	if _, err := callerID(r); err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := a.accounts.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (a *API) getAccountsByIDsOrEmail(w http.ResponseWriter, r *http.Request) {
	if _, err := callerID(r); err != nil {
		writeError(w, err)
		return
	}
	ids, err := queryIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}

	accounts, err := a.accounts.GetByIDsOrEmail(r.Context(), ids, r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accounts)
}

func (a *API) updateAccount(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, err)
		return
	}

	req := models.UpdateAccount{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &InvalidRequestError{Reason: err.Error()})
		return
	}
	if err := validateAccountFields(req.Name, req.Surname, req.Email, req.BirthDate); err != nil {
		writeError(w, err)
		return
	}

	account, err := a.accounts.Update(r.Context(), id, req, caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, account)
}

func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := a.accounts.Delete(r.Context(), id, caller); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) createInstrument(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	req := models.CreateInstrument{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &InvalidRequestError{Reason: err.Error()})
		return
	}
	if err := validateInstrumentFields(req.Number, req.Holder, req.Expiration); err != nil {
		writeError(w, err)
		return
	}

	instrument, err := a.instruments.Create(r.Context(), req, caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, instrument)
}

func (a *API) getInstrument(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "instrumentID")
	if err != nil {
		writeError(w, err)
		return
	}

	instrument, err := a.instruments.Get(r.Context(), id, caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, instrument)
}

func (a *API) getInstrumentsByIDs(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := queryIDs(r)
	if err != nil {
		writeError(w, err)
		return
	}

	instruments, err := a.instruments.GetByIDs(r.Context(), ids, caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, instruments)
}

func (a *API) updateInstrument(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "instrumentID")
	if err != nil {
		writeError(w, err)
		return
	}

	req := models.UpdateInstrument{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &InvalidRequestError{Reason: err.Error()})
		return
	}
	if err := validateInstrumentFields(req.Number, req.Holder, req.Expiration); err != nil {
		writeError(w, err)
		return
	}

	instrument, err := a.instruments.Update(r.Context(), id, req, caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, instrument)
}

func (a *API) deleteInstrument(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "instrumentID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := a.instruments.Delete(r.Context(), id, caller); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func callerID(r *http.Request) (int64, error) {
	id, ok := middleware.CallerID(r.Context())
	if !ok {
		return 0, &AuthenticationError{Reason: "missing caller identity"}
	}
	return id, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, &InvalidRequestError{Reason: name + " must be numeric"}
	}
	return id, nil
}

func queryIDs(r *http.Request) ([]int64, error) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, &InvalidRequestError{Reason: "ids must be numeric"}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func validateAccountFields(name, surname, email, birthDate string) error {
	if name == "" {
		return &InvalidRequestError{Reason: "name is required"}
	}
	if surname == "" {
		return &InvalidRequestError{Reason: "surname is required"}
	}
	if email == "" || !strings.Contains(email, "@") {
		return &InvalidRequestError{Reason: "a valid email is required"}
	}
	if birthDate != "" {
		if _, err := time.Parse("2006-01-02", birthDate); err != nil {
			return &InvalidRequestError{Reason: "birth_date must be YYYY-MM-DD"}
		}
	}
	return nil
}

func validateInstrumentFields(number, holder, expiration string) error {
	if len(number) != 16 {
		return &InvalidRequestError{Reason: "number must be exactly 16 digits"}
	}
	for _, ch := range number {
		if ch < '0' || ch > '9' {
			return &InvalidRequestError{Reason: "number must be exactly 16 digits"}
		}
	}
	if holder == "" {
		return &InvalidRequestError{Reason: "holder is required"}
	}
	if err := expiry.ValidateMMYY(expiration); err != nil {
		return &InvalidRequestError{Reason: err.Error()}
	}
	// nil location falls back to the configured default
	if expired, _ := expiry.IsExpired(expiration, time.Now(), nil); expired {
		return &InvalidRequestError{Reason: "expiration is in the past"}
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var notFound *NotFoundError
	var conflict *ConflictError
	var forbidden *ForbiddenError
	var invalid *InvalidRequestError
	var unauthenticated *AuthenticationError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &forbidden):
		status = http.StatusForbidden
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	case errors.As(err, &unauthenticated):
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
