package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SIGNAL_HTTP_ADDR points at a running coordinator, e.g. localhost:5002
	HTTPAddr  string `envconfig:"SIGNAL_HTTP_ADDR"`
	AdminAddr string `envconfig:"SIGNAL_ADMIN_ADDR"`
	// E2E_DEBUG_JSON dumps every websocket frame received
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
