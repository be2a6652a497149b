package internal

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/medleyhq/medley/internal/api"
	"github.com/medleyhq/medley/internal/api/files"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/probe"
	"github.com/mitchellh/go-homedir"
)

// MedleyConfig is the struct used to contain the various user config
// supplied by file, or manually inside the code.
type MedleyConfig struct {
	Concurrent ConcurrentConfig        `yaml:"concurrency"`
	Probe      probe.Config            `yaml:"probe"`
	Upload     files.UploadConfig      `yaml:"upload" env-required:"true"`
	Database   database.DatabaseConfig `yaml:"database" env-required:"true"`
	Api        api.RestConfig          `yaml:"api"`
}

// ConcurrentConfig is the subset of the configuration that focuses only on
// concurrency related configs (how many probe subprocesses may run at once
// for a single ingestion batch).
type ConcurrentConfig struct {
	ProbeParallelism int `yaml:"probe_parallelism" env:"CONCURRENCY_PROBE_PARALLELISM" env-default:"4" validate:"gte=1"`
}

// LoadFromFile loads a configuration file formatted in YAML in to a
// MedleyConfig struct, expands any '~' in the configured upload root, and
// validates the result.
func (config *MedleyConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration for MedleyConfig - %w", err)
	}

	expanded, err := homedir.Expand(config.Upload.UploadPath)
	if err != nil {
		return fmt.Errorf("failed to expand upload path '%s': %w", config.Upload.UploadPath, err)
	}
	config.Upload.UploadPath = expanded

	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	return nil
}
