// Package kafka provides the cluster client facade: per-operation entry
// points that obtain a pooled connection and issue admin or producer
// calls, translating transport errors into domain categories.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	saslaws "github.com/twmb/franz-go/pkg/sasl/aws"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	awsauth "github.com/nipunap/kafkawatch/internal/aws"
	"github.com/nipunap/kafkawatch/internal/config"
	"github.com/nipunap/kafkawatch/internal/pool"
)

// Conn is a single cluster's connection: an admin endpoint (kgo client
// plus kadm wrapper) and a producer endpoint (its own kgo client), each
// independently connectable so a failure in one aborts pool
// establishment cleanly.
type Conn struct {
	cfg     config.ClusterConfig
	creds   *awsauth.Resolver
	brokers *awsauth.BrokerResolver
	logger  *slog.Logger

	mu             sync.Mutex
	adminClient    *kgo.Client
	admin          *kadm.Client
	producerClient *kgo.Client
}

// NewConn returns an unconnected Conn for the cluster. The credential
// resolver and broker resolver are only consulted for MSK clusters.
func NewConn(cfg config.ClusterConfig, creds *awsauth.Resolver, brokers *awsauth.BrokerResolver, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		cfg:     cfg,
		creds:   creds,
		brokers: brokers,
		logger:  logger,
	}
}

// Admin returns the admin endpoint for pool management.
func (c *Conn) Admin() pool.Endpoint {
	return endpoint{
		connect:    c.connectAdmin,
		disconnect: c.disconnectAdmin,
	}
}

// Producer returns the producer endpoint for pool management.
func (c *Conn) Producer() pool.Endpoint {
	return endpoint{
		connect:    c.connectProducer,
		disconnect: c.disconnectProducer,
	}
}

type endpoint struct {
	connect    func(ctx context.Context) error
	disconnect func(ctx context.Context) error
}

func (e endpoint) Connect(ctx context.Context) error    { return e.connect(ctx) }
func (e endpoint) Disconnect(ctx context.Context) error { return e.disconnect(ctx) }

func (c *Conn) connectAdmin(ctx context.Context) error {
	client, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.adminClient = client
	c.admin = kadm.NewClient(client)
	c.mu.Unlock()

	return nil
}

func (c *Conn) connectProducer(ctx context.Context) error {
	client, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.producerClient = client
	c.mu.Unlock()

	return nil
}

func (c *Conn) disconnectAdmin(ctx context.Context) error {
	c.mu.Lock()
	client := c.adminClient
	c.adminClient = nil
	c.admin = nil
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}
	return nil
}

func (c *Conn) disconnectProducer(ctx context.Context) error {
	c.mu.Lock()
	client := c.producerClient
	c.producerClient = nil
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}
	return nil
}

// dial creates a kgo client from the cluster configuration and verifies
// connectivity with a ping, retrying transient failures.
func (c *Conn) dial(ctx context.Context) (*kgo.Client, error) {
	opts, err := c.clientOpts(ctx)
	if err != nil {
		return nil, err
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create Kafka client for %q: %w", c.cfg.Name, err)
	}

	if err := withRetry(ctx, c.logger, "ping broker", func() error {
		return client.Ping(ctx)
	}); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// clientOpts builds kgo options for this cluster: seed brokers (MSK
// clusters discover theirs through the control plane), SASL, and TLS.
func (c *Conn) clientOpts(ctx context.Context) ([]kgo.Opt, error) {
	seeds, err := c.seedBrokers(ctx)
	if err != nil {
		return nil, err
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(seeds...),
		kgo.ClientID("kafkawatch"),
	}

	mechanism := strings.ToLower(strings.TrimSpace(c.cfg.AuthMechanism))
	switch mechanism {
	case "":
		// Unauthenticated.
	case "plain":
		opts = append(opts, kgo.SASL(plain.Auth{
			User: c.cfg.Username,
			Pass: c.cfg.Password,
		}.AsMechanism()))
	case "scram-sha-256":
		opts = append(opts, kgo.SASL(scram.Auth{
			User: c.cfg.Username,
			Pass: c.cfg.Password,
		}.AsSha256Mechanism()))
	case "scram-sha-512":
		opts = append(opts, kgo.SASL(scram.Auth{
			User: c.cfg.Username,
			Pass: c.cfg.Password,
		}.AsSha512Mechanism()))
	case config.AuthMSKIAM:
		// Token generation re-resolves credentials every time; expiry
		// is therefore bounded by the session token, not by the
		// connection's lifetime.
		opts = append(opts, kgo.SASL(saslaws.ManagedStreamingIAM(c.iamAuth)), kgo.DialTLS())
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", c.cfg.AuthMechanism)
	}

	if mechanism != config.AuthMSKIAM && c.needsTLS() {
		tlsConfig, err := buildTLS(c.cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}

	return opts, nil
}

func (c *Conn) needsTLS() bool {
	return c.cfg.TLSEnabled || c.cfg.TLSCertFile != "" || c.cfg.TLSCAFile != ""
}

func (c *Conn) seedBrokers(ctx context.Context) ([]string, error) {
	if c.cfg.Type == config.ClusterMSK {
		creds, err := c.creds.Resolve(ctx, c.cfg.AWSProfile, c.cfg.AssumeRoleARN, c.cfg.Region)
		if err != nil {
			return nil, err
		}
		return c.brokers.BootstrapBrokers(ctx, creds, c.cfg.ClusterARN, c.cfg.Region)
	}

	seeds := strings.Split(c.cfg.BootstrapServers, ",")
	for i, seed := range seeds {
		seeds[i] = strings.TrimSpace(seed)
	}
	return seeds, nil
}

func (c *Conn) iamAuth(ctx context.Context) (saslaws.Auth, error) {
	creds, err := c.creds.Resolve(ctx, c.cfg.AWSProfile, c.cfg.AssumeRoleARN, c.cfg.Region)
	if err != nil {
		return saslaws.Auth{}, err
	}
	return saslaws.Auth{
		AccessKey:    creds.AccessKeyID,
		SecretKey:    creds.SecretAccessKey,
		SessionToken: creds.SessionToken,
		UserAgent:    "kafkawatch",
	}, nil
}

// handles returns the live admin and producer handles, or an error when
// the connection has been torn down.
func (c *Conn) handles() (*kadm.Client, *kgo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.admin == nil || c.producerClient == nil {
		return nil, nil, fmt.Errorf("cluster %q is not connected", c.cfg.Name)
	}
	return c.admin, c.producerClient, nil
}

// buildTLS creates TLS configuration from the provided cert files.
func buildTLS(cfg config.ClusterConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
