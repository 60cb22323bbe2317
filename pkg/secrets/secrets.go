package secrets

import (
	"bettergist/cfg"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
)

var ErrNotFound = errors.New("secret not found")

type Source interface {
	GetSecret(ctx context.Context, key string) (string, error)
	Name() string
}

// New returns the Source named by kind: "vault", "aws" or "env".
func New(ctx context.Context, kind string) (Source, error) {
	switch kind {
	case "vault":
		return newVaultSource(ctx)
	case "aws":
		return newAWSSource(ctx)
	case "", "env":
		return envSource{}, nil
	}
	return nil, fmt.Errorf("unknown secrets source %q", kind)
}

// Resolve fills the secret fields of c that the environment left empty.
// The environment always wins so local overrides keep working.
func Resolve(ctx context.Context, src Source, c *cfg.Cfg) error {
	targets := []struct {
		key  string
		dest *cfg.Secret
		need bool
	}{
		{"CHALLENGE_SECRET", &c.Challenge.Secret, false},
		{"RECAPTCHA_SECRET", &c.Challenge.RecaptchaSecret, c.Challenge.Mode == cfg.ChallengeRecaptcha},
		{"DATABASE_URL", &c.DatabaseURL, c.StoreBackend == cfg.BackendPostgres},
	}
	for _, t := range targets {
		if t.dest.Value() != "" {
			continue
		}
		val, err := src.GetSecret(ctx, t.key)
		if errors.Is(err, ErrNotFound) && !t.need {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s from %s: %w", t.key, src.Name(), err)
		}
		*t.dest = cfg.NewSecret(val)
	}
	return nil
}

type envSource struct{}

func (envSource) Name() string { return "env" }
func (envSource) GetSecret(_ context.Context, key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}

type vaultSource struct {
	client     *vault.Client
	secretPath string
}

func newVaultSource(ctx context.Context) (*vaultSource, error) {
	vc := vault.DefaultConfig()
	vc.Address = os.Getenv("VAULT_ADDR")
	vc.Timeout = 5 * time.Second
	if vc.Address == "" {
		return nil, errors.New("VAULT_ADDR is required for the vault secrets source")
	}
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read VAULT_TOKEN_FILE: %w", err)
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, fmt.Errorf("vault health check failed: %w", err)
	}
	path := os.Getenv("VAULT_SECRET_PATH")
	if path == "" {
		path = "secret/data/bettergist"
	}
	return &vaultSource{client: client, secretPath: path}, nil
}
func (v *vaultSource) Name() string { return "vault" }

// GetSecret reads the "value" field of a KV v2 entry under secretPath.
func (v *vaultSource) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath+"/"+key)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s has no value field", ErrNotFound, key)
	}
	return value, nil
}

type awsSource struct {
	client *secretsmanager.Client
	prefix string
}

func newAWSSource(ctx context.Context) (*awsSource, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		return nil, errors.New("AWS_REGION is required for the aws secrets source")
	}
	ac, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	prefix := os.Getenv("AWS_SECRET_PREFIX")
	if prefix == "" {
		prefix = "bettergist/"
	}
	return &awsSource{client: secretsmanager.NewFromConfig(ac), prefix: prefix}, nil
}
func (a *awsSource) Name() string { return "aws" }
func (a *awsSource) GetSecret(ctx context.Context, key string) (string, error) {
	id := a.prefix + key
	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", id, err)
	}
	if result.SecretString == nil {
		return "", errors.New("secret is binary, not string")
	}
	return *result.SecretString, nil
}
