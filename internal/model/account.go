package model

// Identity is everything needed to reach one account at its bank.
type Identity struct {
	Name     string
	User     string
	Password string //nolint:gosec // credential held in memory only
	BLZ      string // bank routing code
	IBAN     string
	URL      string // banking gateway endpoint
	TokenURL string // optional OAuth2 token endpoint
}

func (i Identity) String() string {
	return i.Name + " (" + i.IBAN + ")"
}
