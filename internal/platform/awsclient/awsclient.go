// Package awsclient builds AWS service clients from the default credential chain.
package awsclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/appconfigdata"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Clients bundles the service clients the authorize service talks to.
type Clients struct {
	KMS           *kms.Client
	DynamoDB      *dynamodb.Client
	AppConfigData *appconfigdata.Client
}

// New loads the shared AWS config. A non-empty endpoint redirects every client
// to that URL, which is how the service runs against localstack.
func New(ctx context.Context, endpoint string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var base *string
	if endpoint != "" {
		base = aws.String(endpoint)
	}

	return &Clients{
		KMS: kms.NewFromConfig(cfg, func(o *kms.Options) {
			o.BaseEndpoint = base
		}),
		DynamoDB: dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = base
		}),
		AppConfigData: appconfigdata.NewFromConfig(cfg, func(o *appconfigdata.Options) {
			o.BaseEndpoint = base
		}),
	}, nil
}
