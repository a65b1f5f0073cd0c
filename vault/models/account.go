package models

// Account is the owning profile record. There is at most one account per
// authenticated identity; the account id is the identity's subject id.
type Account struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Surname     string        `json:"surname"`
	BirthDate   string        `json:"birth_date"`
	Email       string        `json:"email"`
	Instruments []*Instrument `json:"instruments"`
}

type CreateAccount struct {
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	BirthDate string `json:"birth_date"`
	Email     string `json:"email"`
}

type UpdateAccount struct {
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	BirthDate string `json:"birth_date"`
	Email     string `json:"email"`
}
