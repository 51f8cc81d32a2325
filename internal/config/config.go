package config

import "os"

type Postgres struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

type Config struct {
	Port             string
	LogLevel         string
	MQTTBrokerURL    string
	AgentTimeoutSec  int
	JWTPublicKeyPath string

	// StorePath selects the embedded sqlite file when Postgres is not
	// configured; single-device deployments run without a database server.
	StorePath string
	Postgres  Postgres
}

func Load() Config {
	return Config{
		Port:             getenv("MACRO_SERVICE_PORT", "8096"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		MQTTBrokerURL:    getenv("MQTT_BROKER_URL", ""),
		AgentTimeoutSec:  getenvInt("AGENT_TIMEOUT_SEC", 15),
		JWTPublicKeyPath: getenv("JWT_PUBLIC_KEY_PATH", ""),
		StorePath:        getenv("MACRO_STORE_PATH", "macros.db"),
		Postgres: Postgres{
			User:     getenv("POSTGRES_USER", ""),
			Password: getenv("POSTGRES_PASSWORD", ""),
			DBName:   getenv("POSTGRES_DB", ""),
			Host:     getenv("POSTGRES_HOST", ""),
			Port:     getenv("POSTGRES_PORT", ""),
			SSLMode:  getenv("POSTGRES_SSLMODE", "disable"),
		},
	}
}

// UsePostgres reports whether a Postgres host is configured; otherwise the
// embedded store is used.
func (c Config) UsePostgres() bool {
	return c.Postgres.Host != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
