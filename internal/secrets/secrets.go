// Package secrets resolves secret references from the environment or AWS Secrets Manager.
package secrets

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/Sovryn-Origins/origins/internal/command"
)

const (
	DriverEnv = "env"
	DriverAWS = "aws"
)

var (
	ErrInvalidConfig = errors.New("secrets: invalid config")
	ErrNotFound      = errors.New("secrets: not found")
)

// Provider resolves a reference to a secret value. A reference of the form "name#field"
// selects one field of a JSON object secret.
type Provider interface {
	Get(ctx context.Context, ref string) (string, error)
}

func New(ctx context.Context, driver string) (Provider, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case DriverEnv, "":
		return NewEnv(), nil
	case DriverAWS:
		return NewAWS(ctx)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, driver)
	}
}

// SigningKey loads a hex secp256k1 key. Errors never include the secret.
func SigningKey(ctx context.Context, p Provider, ref string) (*ecdsa.PrivateKey, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	raw, err := p.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	key, err := command.ParsePrivateKeyHex(raw)
	if err != nil {
		return nil, fmt.Errorf("secrets: %s: %w", splitRef(ref).name, err)
	}
	return key, nil
}

type reference struct {
	name  string
	field string
}

func splitRef(ref string) reference {
	ref = strings.TrimSpace(ref)
	name, field, _ := strings.Cut(ref, "#")
	return reference{name: strings.TrimSpace(name), field: strings.TrimSpace(field)}
}

func (r reference) pick(value string) (string, error) {
	if r.field == "" {
		return value, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(value), &obj); err != nil {
		return "", fmt.Errorf("%w: secret %q is not a JSON object", ErrInvalidConfig, r.name)
	}
	v, ok := obj[r.field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: secret %q has no field %q", ErrNotFound, r.name, r.field)
	}
	return strings.TrimSpace(v), nil
}

type awsClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSProvider struct {
	client awsClient
}

func NewAWS(ctx context.Context) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrInvalidConfig, err)
	}
	return NewAWSWithClient(secretsmanager.NewFromConfig(cfg))
}

func NewAWSWithClient(client awsClient) (*AWSProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: nil secretsmanager client", ErrInvalidConfig)
	}
	return &AWSProvider{client: client}, nil
}

func (p *AWSProvider) Get(ctx context.Context, ref string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("%w: nil aws provider", ErrInvalidConfig)
	}
	r := splitRef(ref)
	if r.name == "" {
		return "", fmt.Errorf("%w: empty secret id", ErrInvalidConfig)
	}
	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(r.name)})
	if err != nil {
		return "", fmt.Errorf("secrets: get secret %q: %w", r.name, err)
	}
	var v string
	switch {
	case strings.TrimSpace(aws.ToString(out.SecretString)) != "":
		v = strings.TrimSpace(aws.ToString(out.SecretString))
	case len(out.SecretBinary) > 0:
		v = strings.TrimSpace(string(out.SecretBinary))
	default:
		return "", fmt.Errorf("%w: secret %q has no value", ErrNotFound, r.name)
	}
	return r.pick(v)
}

type EnvProvider struct{}

func NewEnv() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) Get(_ context.Context, ref string) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: nil env provider", ErrInvalidConfig)
	}
	r := splitRef(ref)
	if r.name == "" {
		return "", fmt.Errorf("%w: empty env key", ErrInvalidConfig)
	}
	v := strings.TrimSpace(os.Getenv(r.name))
	if v == "" {
		return "", fmt.Errorf("%w: env %s is empty", ErrNotFound, r.name)
	}
	return r.pick(v)
}
