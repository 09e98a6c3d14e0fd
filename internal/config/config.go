package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment  string
	Verbose      bool
	IMAPHost     string
	IMAPPort     string
	IMAPUseTLS   bool
	IMAPUsername string
	IMAPPassword string
	// Folders is an optional comma-separated list restricting the run to the
	// named folders. Empty means every folder the server lists.
	Folders      string
	DBHost       string
	DBPort       string
	DBUsername   string
	DBPassword   string
	DBName       string
	DBSSLMode    string
	BatchSize    int
	SkipExisting bool
	CSVLogPath   string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILVAULT_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	batchSize, err := getEnvInt("MAILVAULT_BATCH_SIZE", 100)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment:  env,
		Verbose:      getEnvBool("MAILVAULT_VERBOSE", false),
		IMAPHost:     os.Getenv("MAILVAULT_IMAP_HOST"),
		IMAPPort:     getEnvOrDefault("MAILVAULT_IMAP_PORT", "993"),
		IMAPUseTLS:   getEnvBool("MAILVAULT_IMAP_TLS", true),
		IMAPUsername: os.Getenv("MAILVAULT_IMAP_USER"),
		IMAPPassword: os.Getenv("MAILVAULT_IMAP_PASSWORD"),
		Folders:      os.Getenv("MAILVAULT_FOLDERS"),
		DBHost:       getEnvOrDefault("MAILVAULT_DB_HOST", "localhost"),
		DBPort:       getEnvOrDefault("MAILVAULT_DB_PORT", "5432"),
		DBUsername:   getEnvOrDefault("MAILVAULT_DB_USER", "mailvault"),
		DBPassword:   os.Getenv("MAILVAULT_DB_PASSWORD"),
		DBName:       getEnvOrDefault("MAILVAULT_DB_NAME", "mailvault"),
		DBSSLMode:    getEnvOrDefault("MAILVAULT_DB_SSLMODE", "disable"),
		BatchSize:    batchSize,
		SkipExisting: getEnvBool("MAILVAULT_SKIP_EXISTING", true),
		CSVLogPath:   os.Getenv("MAILVAULT_CSV_LOG"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.IMAPHost == "" {
		return fmt.Errorf("MAILVAULT_IMAP_HOST is required")
	}

	if c.IMAPUsername == "" {
		return fmt.Errorf("MAILVAULT_IMAP_USER is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILVAULT_DB_PASSWORD is required")
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("MAILVAULT_BATCH_SIZE must be positive, got %d", c.BatchSize)
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// GetIMAPAddress returns the host:port pair for dialing the IMAP server.
func (c *Config) GetIMAPAddress() string {
	return c.IMAPHost + ":" + c.IMAPPort
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
