package config

// ServerConfig holds configuration for the capture HTTP API.
type ServerConfig struct {
	*Config

	BindAddr     string
	PortFallback bool
}

// LoadServer reads the shared settings plus the API listener settings.
func LoadServer() (*ServerConfig, error) {
	base, err := Load()
	if err != nil {
		return nil, err
	}
	cfg := &ServerConfig{
		Config:       base,
		BindAddr:     getEnvOrDefault("HAR_SERVER_BIND_ADDR", "127.0.0.1:8288"),
		PortFallback: getEnvBoolOrDefault("HAR_SERVER_PORT_FALLBACK", true),
	}
	if base.LogFile == "logs/har_capturer.log" {
		cfg.LogFile = "logs/har_server.log"
	}
	return cfg, nil
}
