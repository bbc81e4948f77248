package storage

import (
	"fmt"

	"calsync/internal/common/errors"
	"calsync/internal/config"
)

// New builds the Store selected by cfg.DatabaseType. Credentials are
// encrypted when cfg.EncryptionKey is set.
func New(cfg *config.Config) (Store, error) {
	codec, err := NewCredentialCodec(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	storageType := cfg.DatabaseType
	if storageType == "postgresql" {
		storageType = "postgres"
	}

	if !DefaultRegistry.IsRegistered(storageType) {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s (available: %v)", cfg.DatabaseType, GetAvailableTypes()))
	}

	return DefaultRegistry.Create(storageType, cfg, codec)
}
