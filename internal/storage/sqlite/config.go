package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.DatabasePath == MemoryPath {
		return nil
	}

	dir := filepath.Dir(c.DatabasePath)
	if info, err := os.Stat(dir); err != nil {
		return fmt.Errorf("database directory %s: %w", dir, err)
	} else if !info.IsDir() {
		return fmt.Errorf("database directory %s is not a directory", dir)
	}

	return nil
}

func (c *Config) GetConnectionString() string {
	return c.DatabasePath
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./calsync.db",
	}
}
