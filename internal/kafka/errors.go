package kafka

import (
	"context"
	"errors"
	"strings"

	"github.com/twmb/franz-go/pkg/kerr"

	"github.com/nipunap/kafkawatch/internal/aws"
)

// Category buckets transport-level failures into the domain outcomes
// callers act on: offer a reconnect, prompt a refresh, or just present
// the message.
type Category string

const (
	CategoryConnectionFailed     Category = "connection_failed"
	CategoryCredentialsNotFound  Category = "credentials_not_found"
	CategoryCredentialsExpired   Category = "credentials_expired"
	CategoryRoleAssumptionFailed Category = "role_assumption_failed"
	CategoryAuthorizationFailed  Category = "authorization_failed"
	CategoryResourceNotFound     Category = "resource_not_found"
	CategoryAlreadyExists        Category = "already_exists"
	CategoryUnknown              Category = "unknown"
)

// Error tags an underlying error with its category. The cause is
// carried unmodified; Error() reproduces its message.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf extracts the category from an error chain, or
// CategoryUnknown.
func CategoryOf(err error) Category {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryUnknown
}

// Classify maps an error to a domain category using Kafka protocol
// error codes where available, falling back to substring inspection of
// transport errors.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var nfe *aws.NotFoundError
	if errors.As(err, &nfe) {
		return CategoryCredentialsNotFound
	}
	var exp *aws.ExpiredError
	if errors.As(err, &exp) {
		return CategoryCredentialsExpired
	}
	var rae *aws.RoleAssumptionError
	if errors.As(err, &rae) {
		return CategoryRoleAssumptionFailed
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		switch ke {
		case kerr.TopicAuthorizationFailed,
			kerr.GroupAuthorizationFailed,
			kerr.ClusterAuthorizationFailed,
			kerr.TransactionalIDAuthorizationFailed,
			kerr.SaslAuthenticationFailed:
			return CategoryAuthorizationFailed
		case kerr.UnknownTopicOrPartition,
			kerr.GroupIDNotFound,
			kerr.UnknownTopicID:
			return CategoryResourceNotFound
		case kerr.TopicAlreadyExists:
			return CategoryAlreadyExists
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "econnrefused"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"),
		errors.Is(err, context.DeadlineExceeded):
		return CategoryConnectionFailed
	case strings.Contains(msg, "token is expired"),
		strings.Contains(msg, "security token") && strings.Contains(msg, "expired"),
		strings.Contains(msg, "expiredtoken"):
		return CategoryCredentialsExpired
	case strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "authorization failed"):
		return CategoryAuthorizationFailed
	case strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "not found"):
		return CategoryResourceNotFound
	case strings.Contains(msg, "already exists"):
		return CategoryAlreadyExists
	}

	return CategoryUnknown
}

// Categorize wraps err with its classified category. Nil stays nil;
// already-tagged errors pass through.
func Categorize(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Category: Classify(err), Err: err}
}

// CategorizeAs wraps err with an explicit category.
func CategorizeAs(category Category, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Err: err}
}

// IsBenignExists reports whether err is a create-operation outcome that
// callers treat as non-fatal.
func IsBenignExists(err error) bool {
	return err != nil && CategoryOf(Categorize(err)) == CategoryAlreadyExists
}
