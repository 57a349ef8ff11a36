package domain

import "time"

// User is a stored account. PasswordHash is always a salted hash
// (bcrypt or argon2id encoding), never the raw password.
type User struct {
	ID           int64 // assigned by storage on insert, never changed
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserFields is a create request as received from a caller. Password is raw.
type UserFields struct {
	Username string
	Email    string
	Password string
}

// UserUpdate is a partial update request. Nil fields are left unchanged;
// Password is raw.
type UserUpdate struct {
	Username *string
	Email    *string
	Password *string
}

// IsEmpty reports whether the update would change nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.Username == nil && u.Email == nil && u.Password == nil
}

// UserChanges is a validated UserUpdate ready to be written. PasswordHash,
// when set, already holds the hashed password.
type UserChanges struct {
	Username     *string
	Email        *string
	PasswordHash *string
}
