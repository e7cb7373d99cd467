package cli

import (
	"os"

	"github.com/coco-alen/gpu-usage-view/internal/config"
	"github.com/coco-alen/gpu-usage-view/internal/errors"
)

// loadConfig loads the config named by --config or found by search. Without
// a config file it returns defaults and an empty path.
func loadConfig() (*config.Config, string, error) {
	return config.LoadOrDefault(cfgFile)
}

// loadWatchConfig loads and validates the config, and requires at least one server.
func loadWatchConfig() (*config.Config, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Servers) == 0 {
		return nil, errors.New(errors.ErrConfig,
			"No servers configured",
			"Add one with 'gpuview server add' or 'gpuview server import'.")
	}
	return cfg, nil
}

// loadConfigForWrite loads the config that edits should go to, and the path
// to write. A --config path that doesn't exist yet is created on write, and
// with no config anywhere edits go to ./gpuview.yaml.
func loadConfigForWrite() (*config.Config, string, error) {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			return config.DefaultConfig(), cfgFile, nil
		}
	}

	cfg, path, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		path = config.ConfigFileName
	}
	return cfg, path, nil
}
