package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrConfigNotFound indicates the tenant has no stored configuration.
var ErrConfigNotFound = errors.New("tenant: config not found")

const configKeyPrefix = "tenant:config:"

// Store persists tenant configurations in Redis with secret fields
// encrypted at rest. Configs never expire; they are replaced by updates.
type Store struct {
	rdb    *redis.Client
	cipher *Cipher
}

// NewStore creates a tenant config store.
func NewStore(rdb *redis.Client, cipher *Cipher) *Store {
	return &Store{rdb: rdb, cipher: cipher}
}

func configKey(tenantID string) string {
	return configKeyPrefix + tenantID
}

// Save encrypts the config's secrets and writes it.
func (s *Store) Save(ctx context.Context, cfg *Config) error {
	if cfg == nil || cfg.TenantID == "" {
		return fmt.Errorf("tenant: tenant_id required")
	}
	sealed := *cfg
	if err := s.sealSecrets(&sealed); err != nil {
		return err
	}
	data, err := json.Marshal(sealed)
	if err != nil {
		return fmt.Errorf("tenant: marshal config: %w", err)
	}
	if err := s.rdb.Set(ctx, configKey(cfg.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("tenant: save config: %w", err)
	}
	return nil
}

// Get loads and decrypts the tenant's config.
func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	data, err := s.rdb.Get(ctx, configKey(tenantID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("tenant: get config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tenant: unmarshal config: %w", err)
	}
	if err := s.openSecrets(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Delete removes the tenant's config.
func (s *Store) Delete(ctx context.Context, tenantID string) error {
	return s.rdb.Del(ctx, configKey(tenantID)).Err()
}

func (s *Store) sealSecrets(cfg *Config) error {
	fields := []*string{
		&cfg.Telephony.AuthToken,
		&cfg.Telephony.WebhookSecret,
		&cfg.LLM.APIKey,
		&cfg.Speech.ASRAPIKey,
		&cfg.Speech.TTSAPIKey,
	}
	for _, f := range fields {
		if *f == "" {
			continue
		}
		enc, err := s.cipher.Encrypt(*f)
		if err != nil {
			return fmt.Errorf("tenant: encrypt secret: %w", err)
		}
		*f = enc
	}
	return nil
}

func (s *Store) openSecrets(cfg *Config) error {
	fields := []*string{
		&cfg.Telephony.AuthToken,
		&cfg.Telephony.WebhookSecret,
		&cfg.LLM.APIKey,
		&cfg.Speech.ASRAPIKey,
		&cfg.Speech.TTSAPIKey,
	}
	for _, f := range fields {
		if *f == "" {
			continue
		}
		dec, err := s.cipher.Decrypt(*f)
		if err != nil {
			return err
		}
		*f = dec
	}
	return nil
}
