package aws

import (
	"fmt"
	"time"
)

// NotFoundError reports an absent credentials file or profile section.
type NotFoundError struct {
	Profile string
	Err     error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("credentials not found for profile %q: %v", e.Profile, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ExpiredError reports a session token past its recorded expiry.
type ExpiredError struct {
	Profile string
	Expiry  time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("credentials for profile %q expired at %s", e.Profile, e.Expiry.Format(time.RFC3339))
}

// RoleAssumptionError reports an STS AssumeRole denial or failure,
// carrying the underlying service message.
type RoleAssumptionError struct {
	RoleARN string
	Err     error
}

func (e *RoleAssumptionError) Error() string {
	return fmt.Sprintf("assume role %q: %v", e.RoleARN, e.Err)
}

func (e *RoleAssumptionError) Unwrap() error { return e.Err }
