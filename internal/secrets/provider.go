// Package secrets provides a unified interface for retrieving secrets from
// various providers. This supports environment variables, AWS Secrets
// Manager, OCI Vault, and future providers like HashiCorp Vault, Azure Key
// Vault, and GCP Secret Manager.
package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/nfig-dev/nfig/internal/slogging"
)

// Common errors
var (
	ErrSecretNotFound     = errors.New("secret not found")
	ErrProviderNotEnabled = errors.New("secrets provider not enabled")
	ErrInvalidConfig      = errors.New("invalid secrets provider configuration")
)

// Provider defines the interface for secrets providers
type Provider interface {
	// GetSecret retrieves a secret value by its key.
	// Returns ErrSecretNotFound if the secret doesn't exist.
	GetSecret(ctx context.Context, key string) (string, error)

	// ListSecrets returns a list of available secret keys.
	// This may not be supported by all providers (returns empty list if unsupported).
	ListSecrets(ctx context.Context) ([]string, error)

	// Name returns the provider's identifier (e.g., "env", "aws", "oci")
	Name() string

	// Close releases any resources held by the provider
	Close() error
}

// ProviderType represents the type of secrets provider
type ProviderType string

// Provider type constants
const (
	ProviderTypeEnv   ProviderType = "env"
	ProviderTypeAWS   ProviderType = "aws"
	ProviderTypeOCI   ProviderType = "oci"
	ProviderTypeVault ProviderType = "vault" // Future: HashiCorp Vault
	ProviderTypeAzure ProviderType = "azure" // Future: Azure Key Vault
	ProviderTypeGCP   ProviderType = "gcp"   // Future: GCP Secret Manager
)

// Config configures which secrets provider NewProvider constructs. Unlike
// the teacher, which sourced this from its own application config package,
// this is a self-contained struct owned by package secrets.
type Config struct {
	Provider ProviderType

	AWSRegion     string
	AWSSecretName string

	OCICompartmentID string
	OCIVaultID       string
	OCISecretName    string
}

// NewProvider creates a new secrets provider based on configuration.
// If no provider is configured, it defaults to the environment variable provider.
func NewProvider(ctx context.Context, cfg *Config) (Provider, error) {
	logger := slogging.Get()

	if cfg == nil || cfg.Provider == "" {
		logger.Info("No secrets provider configured, using environment variables")
		return NewEnvProvider(), nil
	}

	logger.Info("Initializing secrets provider: %s", cfg.Provider)

	switch cfg.Provider {
	case ProviderTypeEnv:
		return NewEnvProvider(), nil

	case ProviderTypeAWS:
		if cfg.AWSRegion == "" || cfg.AWSSecretName == "" {
			return nil, fmt.Errorf("%w: AWS secrets provider requires region and secret name", ErrInvalidConfig)
		}
		return NewAWSProvider(ctx, cfg.AWSRegion, cfg.AWSSecretName)

	case ProviderTypeOCI:
		if cfg.OCICompartmentID == "" || cfg.OCIVaultID == "" {
			return nil, fmt.Errorf("%w: OCI secrets provider requires compartment ID and vault ID", ErrInvalidConfig)
		}
		return NewOCIProvider(ctx, cfg.OCICompartmentID, cfg.OCIVaultID, cfg.OCISecretName)

	case ProviderTypeVault:
		return nil, fmt.Errorf("%w: HashiCorp Vault provider not yet implemented", ErrProviderNotEnabled)

	case ProviderTypeAzure:
		return nil, fmt.Errorf("%w: Azure Key Vault provider not yet implemented", ErrProviderNotEnabled)

	case ProviderTypeGCP:
		return nil, fmt.Errorf("%w: GCP Secret Manager provider not yet implemented", ErrProviderNotEnabled)

	default:
		return nil, fmt.Errorf("%w: unknown provider type: %s", ErrInvalidConfig, cfg.Provider)
	}
}

// SecretKeys contains the standard secret key names NFig looks up through a
// Provider. Override* names the key material package crypto uses to build an
// AESGCMEncryptor; RedisPassword names a Redis credential key, which nothing
// in this module looks up (store/redisstore takes a ready *redis.Client).
var SecretKeys = struct {
	OverrideEncryptionKey         string
	OverrideEncryptionPreviousKey string
	OverrideEncryptionContextID   string
	RedisPassword                 string
}{
	OverrideEncryptionKey:         "override_encryption_key",
	OverrideEncryptionPreviousKey: "override_encryption_previous_key",
	OverrideEncryptionContextID:   "override_encryption_context_id",
	RedisPassword:                 "redis_password",
}
