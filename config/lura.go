package config

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/luraproject/lura/v2/config"
)

const (
	// Namespace is the key under the Lura "extra_config" root
	// section for a valid callsight config.
	Namespace = "telemetry/callsight"
)

// ErrNoConfig is used to signal no config was found.
var ErrNoConfig = errors.New("no config found for callsight")

// FromLura extracts the configuration from the Lura ServiceConfig
// "extra_config" field, so any Lura based service can enable the
// outbound call capture from its own configuration file.
func FromLura(srvCfg config.ServiceConfig) (*ConfigData, error) {
	cfg := new(ConfigData)
	tmp, ok := srvCfg.ExtraConfig[Namespace]
	if !ok {
		return nil, ErrNoConfig
	}
	buf := new(bytes.Buffer)
	json.NewEncoder(buf).Encode(tmp)
	if err := json.NewDecoder(buf).Decode(cfg); err != nil {
		return nil, err
	}

	if cfg.ServiceName == "" {
		if srvCfg.Name != "" {
			cfg.ServiceName = srvCfg.Name
		} else {
			cfg.ServiceName = "callsight"
		}
	}
	cfg.UnsetFieldsToDefaults()
	return cfg, nil
}
