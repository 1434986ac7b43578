package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingCredentials is returned before any network call when
	// email or password is empty.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrPasswordTooShort is returned before any network call for
	// passwords under the minimum length.
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	// ErrVerificationPending means the account exists but has not passed
	// verification; no session is created.
	ErrVerificationPending = errors.New("account verification is pending")
)

// LockedOutError reports an active login lockout for an account.
type LockedOutError struct {
	Email     string
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("too many failed attempts for %s, try again in %d seconds",
		e.Email, int(e.Remaining.Seconds()))
}
