// Package aws resolves AWS profile credentials for MSK IAM authentication,
// optionally assuming an IAM role through STS, and classifies profile
// expiry for presentation.
package aws

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"gopkg.in/ini.v1"
)

// Key recognized in the shared credentials file alongside the standard
// aws_* keys. Written by session-brokering tools; never written by us.
const expiryKey = "x_security_token_expires"

// expiringSoon is the presentation band for credentials close to expiry.
const expiringSoon = 60 * time.Minute

// Credentials is a resolved, time-bounded credential set.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Time // zero when the credential does not expire
	SourceProfile   string
	AssumedRoleARN  string
}

// Expired reports whether the credential set has a known, passed expiry.
func (c Credentials) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && c.Expiry.Before(now)
}

// ProfileState classifies a discovered profile for presentation only.
type ProfileState string

const (
	ProfileNoCredentials ProfileState = "no-credentials"
	ProfileExpired       ProfileState = "expired"
	ProfileExpiring      ProfileState = "expiring"
	ProfileActive        ProfileState = "active"
)

// ProfileStatus describes one profile from the shared credentials file.
type ProfileStatus struct {
	Name   string
	State  ProfileState
	Expiry time.Time
}

// STSAPI is the subset of the STS client used for role assumption.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Resolver reads the shared AWS credentials file and performs STS role
// assumption. Each call starts from scratch: no caching, no background
// refresh. The connection pool hides the common case, so re-resolution
// is paid once per reconnect rather than per operation.
type Resolver struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	// newSTS builds an STS client for a region; replaced in tests.
	newSTS func(region string, creds Credentials) STSAPI
}

// NewResolver returns a resolver over the conventional per-user
// credentials file. An empty path selects ~/.aws/credentials.
func NewResolver(path string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		path:   path,
		logger: logger,
		now:    time.Now,
		newSTS: func(region string, creds Credentials) STSAPI {
			provider := credentials.NewStaticCredentialsProvider(
				creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
			return sts.New(sts.Options{
				Region:      region,
				Credentials: awssdk.NewCredentialsCache(provider),
			})
		},
	}
}

func (r *Resolver) credentialsPath() (string, error) {
	if r.path != "" {
		return r.path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".aws", "credentials"), nil
}

// ResolveProfile reads one profile from the credentials file.
func (r *Resolver) ResolveProfile(ctx context.Context, profile string) (Credentials, error) {
	path, err := r.credentialsPath()
	if err != nil {
		return Credentials{}, err
	}

	file, err := ini.Load(path)
	if err != nil {
		return Credentials{}, &NotFoundError{Profile: profile, Err: fmt.Errorf("read credentials file %q: %w", path, err)}
	}

	section, err := file.GetSection(profile)
	if err != nil {
		return Credentials{}, &NotFoundError{Profile: profile, Err: err}
	}

	creds := Credentials{
		AccessKeyID:     section.Key("aws_access_key_id").String(),
		SecretAccessKey: section.Key("aws_secret_access_key").String(),
		SessionToken:    section.Key("aws_session_token").String(),
		SourceProfile:   profile,
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return Credentials{}, &NotFoundError{Profile: profile, Err: fmt.Errorf("profile %q has no credentials", profile)}
	}

	if raw := section.Key(expiryKey).String(); raw != "" {
		expiry, parseErr := time.Parse(time.RFC3339, raw)
		if parseErr != nil {
			r.logger.Warn("unparseable credential expiry, treating as permanent",
				"profile", profile, "value", raw, "error", parseErr)
		} else {
			creds.Expiry = expiry
		}
	}

	if creds.Expired(r.now()) {
		return Credentials{}, &ExpiredError{Profile: profile, Expiry: creds.Expiry}
	}

	return creds, nil
}

// AssumeRole exchanges base credentials for temporary ones scoped to
// roleARN via STS.
func (r *Resolver) AssumeRole(ctx context.Context, base Credentials, roleARN, region string) (Credentials, error) {
	client := r.newSTS(region, base)

	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         awssdk.String(roleARN),
		RoleSessionName: awssdk.String("kafkawatch-session"),
		DurationSeconds: awssdk.Int32(3600),
	})
	if err != nil {
		return Credentials{}, &RoleAssumptionError{RoleARN: roleARN, Err: err}
	}
	if out.Credentials == nil {
		return Credentials{}, &RoleAssumptionError{RoleARN: roleARN, Err: fmt.Errorf("empty credentials in AssumeRole response")}
	}

	creds := Credentials{
		AccessKeyID:     awssdk.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: awssdk.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    awssdk.ToString(out.Credentials.SessionToken),
		SourceProfile:   base.SourceProfile,
		AssumedRoleARN:  roleARN,
	}
	if out.Credentials.Expiration != nil {
		creds.Expiry = *out.Credentials.Expiration
	}

	r.logger.Debug("assumed role", "role_arn", roleARN, "expiry", creds.Expiry)

	return creds, nil
}

// Resolve produces a working credential set for a cluster: profile
// lookup, then role assumption when configured.
func (r *Resolver) Resolve(ctx context.Context, profile, roleARN, region string) (Credentials, error) {
	if profile == "" {
		profile = "default"
	}

	creds, err := r.ResolveProfile(ctx, profile)
	if err != nil {
		return Credentials{}, err
	}

	if roleARN != "" {
		return r.AssumeRole(ctx, creds, roleARN, region)
	}

	return creds, nil
}

// ListProfiles discovers every profile in the credentials file and
// classifies it for presentation. Ordering is total and deterministic:
// default first, then non-expired before expired, then by name.
func (r *Resolver) ListProfiles() ([]ProfileStatus, error) {
	path, err := r.credentialsPath()
	if err != nil {
		return nil, err
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file %q: %w", path, err)
	}

	now := r.now()
	statuses := make([]ProfileStatus, 0)

	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}

		status := ProfileStatus{Name: name, State: classifyProfile(section, now)}
		if raw := section.Key(expiryKey).String(); raw != "" {
			if expiry, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
				status.Expiry = expiry
			}
		}
		statuses = append(statuses, status)
	}

	sortProfiles(statuses)

	return statuses, nil
}

func classifyProfile(section *ini.Section, now time.Time) ProfileState {
	if section.Key("aws_access_key_id").String() == "" ||
		section.Key("aws_secret_access_key").String() == "" {
		return ProfileNoCredentials
	}

	raw := section.Key(expiryKey).String()
	if raw == "" {
		// Permanent credential.
		return ProfileActive
	}

	expiry, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return ProfileActive
	}

	switch {
	case expiry.Before(now):
		return ProfileExpired
	case expiry.Sub(now) < expiringSoon:
		return ProfileExpiring
	default:
		return ProfileActive
	}
}

func sortProfiles(statuses []ProfileStatus) {
	sort.SliceStable(statuses, func(i, j int) bool {
		left, right := statuses[i], statuses[j]

		if (left.Name == "default") != (right.Name == "default") {
			return left.Name == "default"
		}

		leftExpired := left.State == ProfileExpired
		rightExpired := right.State == ProfileExpired
		if leftExpired != rightExpired {
			return !leftExpired
		}

		return strings.ToLower(left.Name) < strings.ToLower(right.Name)
	})
}
