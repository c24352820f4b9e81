package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server      ServerConfig
	App         AppConfig
	Log         LogConfig
	Cache       CacheConfig
	InventoryDB InventoryDBConfig
	StateDB     StateDBConfig
	Lightspeed  LightspeedConfig
	BigCommerce BigCommerceConfig
	Sync        SyncConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15m"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string   `envconfig:"APP_NAME" default:"stocksync-api"`
	Environment string   `envconfig:"APP_ENV" default:"development"`
	Version     string   `envconfig:"APP_VERSION" default:"1.0.0"`
	APIKeys     []string `envconfig:"API_KEYS"` // comma separated; empty disables auth on sync/admin routes
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"console"` // console or json
}

// CacheConfig holds lookup cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_KEY_PREFIX" default:"stocksync:inventory"`
}

// InventoryDBConfig holds inventory database settings.
type InventoryDBConfig struct {
	Type string `envconfig:"INVENTORY_DB_TYPE" default:"sqlite"` // sqlite, postgres, or mongodb
	Path string `envconfig:"INVENTORY_DB_PATH" default:"./data/inventory.db"`
	// PostgreSQL settings
	Host     string `envconfig:"INVENTORY_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"INVENTORY_DB_PORT" default:"5432"`
	Name     string `envconfig:"INVENTORY_DB_NAME" default:"stocksync"`
	User     string `envconfig:"INVENTORY_DB_USER" default:"postgres"`
	Password string `envconfig:"INVENTORY_DB_PASS" default:""`
	SSLMode  string `envconfig:"INVENTORY_DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI        string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"inventory"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"inventory"`
}

// StateDBConfig selects where credentials and sync cursors live.
// An empty Type reuses the inventory backend.
type StateDBConfig struct {
	Type     string `envconfig:"STATE_DB_TYPE" default:""` // "", sqlite, postgres, mongodb, mysql
	Host     string `envconfig:"STATE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STATE_DB_PORT" default:"3306"`
	Name     string `envconfig:"STATE_DB_NAME" default:"stocksync"`
	User     string `envconfig:"STATE_DB_USER" default:"root"`
	Password string `envconfig:"STATE_DB_PASS" default:""`
}

// LightspeedConfig holds upstream point-of-sale API settings.
type LightspeedConfig struct {
	IntegrationID  string        `envconfig:"LIGHTSPEED_INTEGRATION_ID" default:"lightspeed"`
	ClientID       string        `envconfig:"CLIENT_ID"`
	ClientSecret   string        `envconfig:"CLIENT_SECRET"`
	AccountID      string        `envconfig:"ACCOUNT_ID"`
	BaseURL        string        `envconfig:"LIGHTSPEED_BASE_URL" default:"https://api.lightspeedapp.com/API/V3"`
	TokenURL       string        `envconfig:"LIGHTSPEED_TOKEN_URL" default:"https://cloud.lightspeedapp.com/oauth/access_token.php"`
	LoadRelations  []string      `envconfig:"LIGHTSPEED_LOAD_RELATIONS" default:"ItemShops"`
	Paging         string        `envconfig:"LIGHTSPEED_PAGING" default:"cursor"` // cursor or offset
	PageSize       int           `envconfig:"LIGHTSPEED_PAGE_SIZE" default:"100"`
	Concurrency    int           `envconfig:"LIGHTSPEED_CONCURRENCY" default:"10"`
	MaxRetries     int           `envconfig:"LIGHTSPEED_MAX_RETRIES" default:"5"`
	BaseDelay      time.Duration `envconfig:"LIGHTSPEED_RETRY_BASE_DELAY" default:"1s"`
	RequestTimeout time.Duration `envconfig:"LIGHTSPEED_REQUEST_TIMEOUT" default:"30s"`
	RatePerSecond  float64       `envconfig:"LIGHTSPEED_RATE_PER_SECOND" default:"0"` // 0 disables pacing
	RateBurst      int           `envconfig:"LIGHTSPEED_RATE_BURST" default:"10"`
}

// BigCommerceConfig holds second-platform settings.
type BigCommerceConfig struct {
	Enabled        bool          `envconfig:"BC_ENABLED" default:"false"`
	StoreHash      string        `envconfig:"BC_STORE_HASH"`
	AccessToken    string        `envconfig:"BC_ACCESS_TOKEN"`
	BaseURL        string        `envconfig:"BC_BASE_URL" default:"https://api.bigcommerce.com/stores"`
	PageSize       int           `envconfig:"BC_PAGE_SIZE" default:"250"`
	Concurrency    int           `envconfig:"BC_CONCURRENCY" default:"4"`
	MaxRetries     int           `envconfig:"BC_MAX_RETRIES" default:"5"`
	BaseDelay      time.Duration `envconfig:"BC_RETRY_BASE_DELAY" default:"1s"`
	RequestTimeout time.Duration `envconfig:"BC_REQUEST_TIMEOUT" default:"30s"`
	RatePerSecond  float64       `envconfig:"BC_RATE_PER_SECOND" default:"0"`
	RateBurst      int           `envconfig:"BC_RATE_BURST" default:"5"`
	KeySeparator   string        `envconfig:"BC_KEY_SEPARATOR" default:""` // match on SKU prefix before this separator
}

// SyncConfig holds pipeline settings.
type SyncConfig struct {
	IncludePattern string        `envconfig:"SYNC_INCLUDE_PATTERN" default:"2024|2025"`
	Interval       time.Duration `envconfig:"SYNC_INTERVAL" default:"30m"`
	RunOnStartup   bool          `envconfig:"SYNC_RUN_ON_STARTUP" default:"false"`
	RunTimeout     time.Duration `envconfig:"SYNC_RUN_TIMEOUT" default:"20m"`
	WriteWorkers   int           `envconfig:"SYNC_WRITE_WORKERS" default:"8"`
	Incremental    bool          `envconfig:"SYNC_INCREMENTAL" default:"false"`
	Stream         string        `envconfig:"SYNC_STREAM" default:"lightspeed-items"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (i *InventoryDBConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		i.User, i.Password, i.Host, i.Port, i.Name, i.SSLMode)
}

// ResolvedType returns the state backend, falling back to the inventory backend.
func (s *StateDBConfig) ResolvedType(inventoryType string) string {
	if s.Type == "" {
		return inventoryType
	}
	return s.Type
}

// MySQLDSN returns the MySQL data source name.
func (s *StateDBConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		s.User, s.Password, s.Host, s.Port, s.Name)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Lightspeed.Paging {
	case "cursor", "offset":
	default:
		errs = append(errs, fmt.Errorf("LIGHTSPEED_PAGING must be cursor or offset, got %q", c.Lightspeed.Paging))
	}
	if c.Lightspeed.PageSize <= 0 {
		errs = append(errs, errors.New("LIGHTSPEED_PAGE_SIZE must be positive"))
	}
	if c.Lightspeed.Concurrency <= 0 {
		errs = append(errs, errors.New("LIGHTSPEED_CONCURRENCY must be positive"))
	}
	if c.Lightspeed.MaxRetries < 0 {
		errs = append(errs, errors.New("LIGHTSPEED_MAX_RETRIES must not be negative"))
	}
	if c.Sync.WriteWorkers <= 0 {
		errs = append(errs, errors.New("SYNC_WRITE_WORKERS must be positive"))
	}
	if c.BigCommerce.Enabled {
		if c.BigCommerce.StoreHash == "" || c.BigCommerce.AccessToken == "" {
			errs = append(errs, errors.New("BC_STORE_HASH and BC_ACCESS_TOKEN are required when BC_ENABLED=true"))
		}
		if c.BigCommerce.Concurrency <= 0 || c.BigCommerce.PageSize <= 0 {
			errs = append(errs, errors.New("BC_CONCURRENCY and BC_PAGE_SIZE must be positive"))
		}
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
