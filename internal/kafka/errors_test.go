package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"

	"github.com/nipunap/kafkawatch/internal/aws"
)

func TestClassifyKafkaProtocolErrors(t *testing.T) {
	tests := []struct {
		err  error
		want Category
	}{
		{err: kerr.TopicAuthorizationFailed, want: CategoryAuthorizationFailed},
		{err: kerr.GroupAuthorizationFailed, want: CategoryAuthorizationFailed},
		{err: kerr.ClusterAuthorizationFailed, want: CategoryAuthorizationFailed},
		{err: kerr.SaslAuthenticationFailed, want: CategoryAuthorizationFailed},
		{err: kerr.UnknownTopicOrPartition, want: CategoryResourceNotFound},
		{err: kerr.GroupIDNotFound, want: CategoryResourceNotFound},
		{err: kerr.TopicAlreadyExists, want: CategoryAlreadyExists},
		{err: fmt.Errorf("create topic: %w", kerr.TopicAlreadyExists), want: CategoryAlreadyExists},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestClassifyCredentialErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{
			name: "profile not found",
			err:  &aws.NotFoundError{Profile: "prod", Err: errors.New("section does not exist")},
			want: CategoryCredentialsNotFound,
		},
		{
			name: "credentials expired",
			err:  &aws.ExpiredError{Profile: "prod", Expiry: time.Now().Add(-time.Hour)},
			want: CategoryCredentialsExpired,
		},
		{
			name: "role assumption failed",
			err:  &aws.RoleAssumptionError{RoleARN: "arn:aws:iam::1:role/x", Err: errors.New("AccessDenied")},
			want: CategoryRoleAssumptionFailed,
		},
		{
			name: "wrapped expiry error",
			err:  fmt.Errorf("connect: %w", &aws.ExpiredError{Profile: "prod"}),
			want: CategoryCredentialsExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClassifyTransportSubstrings(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{msg: "dial tcp 127.0.0.1:9092: connect: connection refused", want: CategoryConnectionFailed},
		{msg: "dial tcp: lookup broker.internal: no such host", want: CategoryConnectionFailed},
		{msg: "read tcp 10.0.0.1:54321: i/o timeout", want: CategoryConnectionFailed},
		{msg: "ECONNREFUSED", want: CategoryConnectionFailed},
		{msg: "The security token included in the request is expired", want: CategoryCredentialsExpired},
		{msg: "ExpiredTokenException: token expired", want: CategoryCredentialsExpired},
		{msg: "User is not authorized to perform kafka-cluster:Connect", want: CategoryAuthorizationFailed},
		{msg: "Access denied for principal", want: CategoryAuthorizationFailed},
		{msg: "topic \"orders\" does not exist", want: CategoryResourceNotFound},
		{msg: "consumer group not found", want: CategoryResourceNotFound},
		{msg: "topic \"orders\" already exists", want: CategoryAlreadyExists},
		{msg: "something else entirely", want: CategoryUnknown},
	}

	for _, tt := range tests {
		if got := Classify(errors.New(tt.msg)); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestClassifyContextDeadline(t *testing.T) {
	err := fmt.Errorf("ping broker: %w", context.DeadlineExceeded)
	if got := Classify(err); got != CategoryConnectionFailed {
		t.Errorf("Classify(deadline) = %s, want %s", got, CategoryConnectionFailed)
	}
}

func TestCategorizePreservesMessage(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:9092: connect: connection refused")
	tagged := Categorize(cause)

	if tagged.Error() != cause.Error() {
		t.Errorf("tagged message = %q, want the cause's message %q", tagged.Error(), cause.Error())
	}
	if !errors.Is(tagged, cause) {
		t.Error("tagged error does not unwrap to the cause")
	}
	if got := CategoryOf(tagged); got != CategoryConnectionFailed {
		t.Errorf("CategoryOf = %s", got)
	}
}

func TestCategorizeIdempotent(t *testing.T) {
	tagged := CategorizeAs(CategoryResourceNotFound, errors.New("topic gone"))
	again := Categorize(tagged)

	if again != tagged {
		t.Error("re-categorizing replaced the existing tag")
	}
	if got := CategoryOf(again); got != CategoryResourceNotFound {
		t.Errorf("CategoryOf = %s, want the original tag", got)
	}
}

func TestCategorizeNil(t *testing.T) {
	if Categorize(nil) != nil {
		t.Error("Categorize(nil) != nil")
	}
	if CategorizeAs(CategoryUnknown, nil) != nil {
		t.Error("CategorizeAs(nil) != nil")
	}
}

func TestCategoryOfUntagged(t *testing.T) {
	if got := CategoryOf(errors.New("plain")); got != CategoryUnknown {
		t.Errorf("CategoryOf(plain) = %s, want unknown", got)
	}
}

func TestIsBenignExists(t *testing.T) {
	if !IsBenignExists(kerr.TopicAlreadyExists) {
		t.Error("TopicAlreadyExists should be benign")
	}
	if !IsBenignExists(CategorizeAs(CategoryAlreadyExists, errors.New("already exists"))) {
		t.Error("tagged already-exists should be benign")
	}
	if IsBenignExists(errors.New("connection refused")) {
		t.Error("connection failure is not benign")
	}
	if IsBenignExists(nil) {
		t.Error("nil is not benign-exists")
	}
}
