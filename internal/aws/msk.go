package aws

import (
	"context"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kafka"
)

// MSKAPI is the subset of the MSK control-plane client we call.
type MSKAPI interface {
	GetBootstrapBrokers(ctx context.Context, params *kafka.GetBootstrapBrokersInput, optFns ...func(*kafka.Options)) (*kafka.GetBootstrapBrokersOutput, error)
}

// BrokerResolver discovers SASL/IAM bootstrap brokers for an MSK cluster
// ARN through the MSK control plane.
type BrokerResolver struct {
	// newClient builds an MSK client for a region; replaced in tests.
	newClient func(region string, creds Credentials) MSKAPI
}

// NewBrokerResolver returns a resolver backed by the real MSK service.
func NewBrokerResolver() *BrokerResolver {
	return &BrokerResolver{
		newClient: func(region string, creds Credentials) MSKAPI {
			provider := credentials.NewStaticCredentialsProvider(
				creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
			return kafka.New(kafka.Options{
				Region:      region,
				Credentials: awssdk.NewCredentialsCache(provider),
			})
		},
	}
}

// BootstrapBrokers returns the SASL/IAM bootstrap broker list for the
// cluster, preferring the private endpoint over the public one.
func (b *BrokerResolver) BootstrapBrokers(ctx context.Context, creds Credentials, clusterARN, region string) ([]string, error) {
	client := b.newClient(region, creds)

	out, err := client.GetBootstrapBrokers(ctx, &kafka.GetBootstrapBrokersInput{
		ClusterArn: awssdk.String(clusterARN),
	})
	if err != nil {
		return nil, fmt.Errorf("get bootstrap brokers for %q: %w", clusterARN, err)
	}

	brokerString := awssdk.ToString(out.BootstrapBrokerStringSaslIam)
	if brokerString == "" {
		brokerString = awssdk.ToString(out.BootstrapBrokerStringPublicSaslIam)
	}
	if brokerString == "" {
		return nil, fmt.Errorf("cluster %q exposes no SASL/IAM bootstrap brokers", clusterARN)
	}

	brokers := strings.Split(brokerString, ",")
	for i, broker := range brokers {
		brokers[i] = strings.TrimSpace(broker)
	}

	return brokers, nil
}
