package models

// Instrument is a payment-card-like record owned by exactly one account.
// Expiration is kept in card-face form, MM/YY.
type Instrument struct {
	ID         int64  `json:"id"`
	AccountID  int64  `json:"account_id"`
	Number     string `json:"number"`
	Holder     string `json:"holder"`
	Expiration string `json:"expiration"`
}

type CreateInstrument struct {
	AccountID  int64  `json:"account_id"`
	Number     string `json:"number"`
	Holder     string `json:"holder"`
	Expiration string `json:"expiration"`
}

type UpdateInstrument struct {
	Number     string `json:"number"`
	Holder     string `json:"holder"`
	Expiration string `json:"expiration"`
}
