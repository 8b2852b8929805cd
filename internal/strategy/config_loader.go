package strategy

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"autotrade-core/pkg/db"
)

// Config represents a strategy record entry in the seed YAML.
type Config struct {
	ID                  string                    `yaml:"id"`
	Name                string                    `yaml:"name"`
	AccountID           string                    `yaml:"account_id"`
	Segment             string                    `yaml:"segment"`
	Kinds               []string                  `yaml:"kinds"`
	Params              map[string]float64        `yaml:"params"`
	Instruments         []db.InstrumentAllocation `yaml:"instruments"`
	TotalCapital        float64                   `yaml:"total_capital"`
	StopLossPercent     float64                   `yaml:"stop_loss_percent"`
	TakeProfitPercent   float64                   `yaml:"take_profit_percent"`
	PollIntervalSeconds int                       `yaml:"poll_interval_seconds"`
	IsActive            bool                      `yaml:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategy records from a YAML file. Unknown kinds are
// rejected here so a bad seed never reaches the database.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for i, cfg := range file.Strategies {
		if cfg.ID == "" {
			return nil, fmt.Errorf("strategy #%d: id is required", i)
		}
		for j, name := range cfg.Kinds {
			kind, err := ParseKind(name)
			if err != nil {
				return nil, fmt.Errorf("strategy %s: %w", cfg.ID, err)
			}
			file.Strategies[i].Kinds[j] = string(kind)
		}
	}
	return file.Strategies, nil
}

// Record converts a seed entry into its database form.
func (c Config) Record() db.Strategy {
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return db.Strategy{
		ID:                  c.ID,
		Name:                name,
		AccountID:           c.AccountID,
		Segment:             c.Segment,
		Kinds:               c.Kinds,
		Params:              c.Params,
		Instruments:         c.Instruments,
		TotalCapital:        c.TotalCapital,
		StopLossPercent:     c.StopLossPercent,
		TakeProfitPercent:   c.TakeProfitPercent,
		PollIntervalSeconds: c.PollIntervalSeconds,
		IsActive:            c.IsActive,
	}
}

// SyncConfigToDB upserts strategies from config into the database.
func SyncConfigToDB(ctx context.Context, database *db.Database, configs []Config) error {
	for _, cfg := range configs {
		if err := database.UpsertStrategy(ctx, cfg.Record()); err != nil {
			return fmt.Errorf("failed to upsert strategy %s: %w", cfg.ID, err)
		}
	}
	return nil
}
