package domain

// Mode says where the cart of a session lives.
type Mode int

const (
	// ModeGuest keeps the cart in the persistent guest store.
	ModeGuest Mode = iota
	// ModeAuthenticated keeps the cart in the remote cart API.
	ModeAuthenticated
)

func (m Mode) String() string {
	if m == ModeAuthenticated {
		return "authenticated"
	}
	return "guest"
}

// MarshalText renders the mode as "guest" or "authenticated".
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
