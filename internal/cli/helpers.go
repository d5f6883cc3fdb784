package cli

import (
	"fmt"

	"github.com/omjadhav9271/code-review-copilot/internal/config"
	"github.com/omjadhav9271/code-review-copilot/internal/db"
)

// loadConfig loads the config from --config or the default search path.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openDB opens (and migrates) the database from the config, falling back to
// the default path.
func openDB(cfg *config.Config) (*db.DB, error) {
	path := cfg.DB.Path
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
