package app

import (
	"machinepark/internal/config"
)

// ResolveConfig loads machinepark.yml from the workspace, falling back
// to the built-in defaults when the file is absent. An invalid file is
// an error, not a fallback.
func ResolveConfig(workspace, parkOverride string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		parkID := parkOverride
		if parkID == "" {
			parkID = "default-park"
		}
		cfg = config.Default(parkID)
	}
	if parkOverride != "" {
		cfg.Park.ID = parkOverride
	}
	return cfg, nil
}
