// Package connection reads DynamoDB connection settings and builds clients.
//
// Settings come from DYNAMODB_* environment variables, optionally seeded
// from .env files. Setting a host points the client at DynamoDB Local or
// another compatible endpoint.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
)

const (
	EnvNamespace       = "DYNAMODB_NAMESPACE"
	EnvAccessKeyID     = "DYNAMODB_ACCESS_KEY_ID"
	EnvSecretAccessKey = "DYNAMODB_SECRET_ACCESS_KEY"
	EnvHost            = "DYNAMODB_HOST"
	EnvPort            = "DYNAMODB_PORT"
	EnvIsSecure        = "DYNAMODB_IS_SECURE"
	EnvRegion          = "DYNAMODB_REGION"
)

const DefaultRegion = "us-west-2"

// Settings configure the connection and the table namespace.
type Settings struct {
	Namespace       string
	AccessKeyID     string
	SecretAccessKey string
	Host            string
	Port            int
	IsSecure        bool
	Region          string
}

// Load reads settings from the environment. Variables missing from the
// environment are looked up in the given .env files; missing files are skipped.
func Load(envFiles ...string) (Settings, error) {
	fromFiles := make(map[string]string)
	for _, f := range envFiles {
		vars, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Settings{}, ddberrors.NewConfigurationError("read %s: %v", f, err)
		}
		for k, v := range vars {
			if _, ok := fromFiles[k]; !ok {
				fromFiles[k] = v
			}
		}
	}
	return FromEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fromFiles[key]
		return v, ok
	})
}

// FromEnv reads settings through lookup, such as os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Settings, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	s := Settings{
		Namespace:       get(EnvNamespace),
		AccessKeyID:     get(EnvAccessKeyID),
		SecretAccessKey: get(EnvSecretAccessKey),
		Host:            get(EnvHost),
		Region:          get(EnvRegion),
	}
	if port := get(EnvPort); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Settings{}, ddberrors.NewConfigurationError("integer value expected for %s, got %q", EnvPort, port)
		}
		s.Port = p
	}
	if secure := get(EnvIsSecure); secure != "" {
		b, err := strconv.ParseBool(secure)
		if err != nil {
			return Settings{}, ddberrors.NewConfigurationError("boolean value expected for %s, got %q", EnvIsSecure, secure)
		}
		s.IsSecure = b
	}
	if s.Region == "" {
		s.Region = DefaultRegion
	}
	return s, s.Validate()
}

// Validate reports missing or inconsistent settings.
func (s Settings) Validate() error {
	if s.Namespace == "" {
		return ddberrors.NewConfigurationError("missing namespace, set %s", EnvNamespace)
	}
	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		return ddberrors.NewConfigurationError("%s and %s must be set together", EnvAccessKeyID, EnvSecretAccessKey)
	}
	if s.Port < 0 {
		return ddberrors.NewConfigurationError("invalid port %d", s.Port)
	}
	return nil
}

// Endpoint returns the custom endpoint URL, or "" to use the AWS endpoint.
func (s Settings) Endpoint() string {
	if s.Host == "" {
		return ""
	}
	scheme := "http"
	if s.IsSecure {
		scheme = "https"
	}
	if s.Port == 0 {
		return fmt.Sprintf("%s://%s", scheme, s.Host)
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.Host, s.Port)
}

// NewClient builds a DynamoDB client. Without static keys the default AWS
// credential chain is used.
func NewClient(ctx context.Context, s Settings, log logr.Logger) (*dynamodb.Client, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(s.Region)}
	if s.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	endpoint := s.Endpoint()
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	log.Info("set config", "namespace", s.Namespace, "region", s.Region, "endpoint", endpoint)
	return client, nil
}
