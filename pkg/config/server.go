package config

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        string
	BaseURL     string
	CORSOrigins string
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:        getEnv("PORT", "8080"),
		BaseURL:     getEnv("APP_BASE_URL", "http://localhost:8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}
