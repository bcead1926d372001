// Package identity defines the authenticated user identity and persists the
// credential that lets a client silently resume it.
package identity

// Identity is the authenticated user. It is immutable while a session is
// active; a new login produces a new value.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Profile is the registration payload collected by the register screen.
type Profile struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Credentials pairs an identity with the bearer token issued for it.
type Credentials struct {
	Identity Identity `json:"identity"`
	Token    string   `json:"token"`
}
