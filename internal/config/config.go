// Package config provides configuration loading for the harvesting
// service: environment variables for infrastructure endpoints and two
// YAML registries for enabled harvesters and accepted person
// identifier types.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AMQPConfig holds broker connectivity and consumption settings.
type AMQPConfig struct {
	Enabled  bool
	Host     string
	User     string
	Password string

	ExchangeName        string
	QueueName           string
	RetrievalRoutingKey string

	PrefetchCount      int
	ConsumerAckTimeout time.Duration
	WaitBeforeShutdown time.Duration

	// Inner task queue between the consumer loop and the processing
	// workers.
	TaskQueueLength  int
	ParallelismLimit int
}

// URL assembles the broker connection string.
func (c AMQPConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s/", c.User, c.Password, c.Host)
}

// DBConfig holds Postgres connectivity settings.
type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns int
	MaxIdleConns int
}

// DSN assembles the Postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.User, c.Password, c.SSLMode)
}

// RedisConfig holds the third-party API cache settings.
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string

	// ThirdAPICachingEnabled toggles caching of upstream responses;
	// when false the service runs with a no-op cache.
	ThirdAPICachingEnabled bool

	// DefaultTTL applies to cached entries in namespaces without an
	// override. Zero keeps entries forever.
	DefaultTTL time.Duration
	// NamespaceTTLs overrides the TTL for specific cache namespaces,
	// parsed from a "namespace=seconds" comma list.
	NamespaceTTLs map[string]time.Duration
}

// Addr assembles the Redis address.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SourcesConfig holds upstream endpoint URLs and credentials.
type SourcesConfig struct {
	HalURL   string
	ScanRURL string

	// OpenAlexEmail joins the OpenAlex polite pool when set.
	OpenAlexURL   string
	OpenAlexEmail string

	ScopusURL       string
	ScopusAPIKey    string
	ScopusInstToken string

	IdrefSparqlEndpoint     string
	IdrefSparqlTimeout      time.Duration
	IdrefSudocTimeout       time.Duration
	IdrefSciencePlusTimeout time.Duration
	SciencePlusURL          string
	OpenEditionURL          string
}

// ArchiveConfig holds optional raw payload archiving settings.
type ArchiveConfig struct {
	Enabled bool
	// Backend selects "minio" or "local".
	Backend string
	// Format selects "jsonl" or "parquet".
	Format string

	LocalDir string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// HarvesterConfig is one entry of the harvesters YAML registry.
type HarvesterConfig struct {
	Name     string            `yaml:"name"`
	Enabled  bool              `yaml:"enabled"`
	Settings map[string]string `yaml:"settings,omitempty"`
}

// IdentifierConfig is one entry of the identifiers YAML registry. The
// order of entries defines the identifier precedence reported to
// clients.
type IdentifierConfig struct {
	Type  string `yaml:"type"`
	Label string `yaml:"label"`
}

// Config is the root configuration of the harvesting service.
type Config struct {
	Env string

	HealthHost string
	HealthPort int

	ResultTimeout      time.Duration
	MaxExpectedResults int

	// ConceptLanguages orders label languages by preference when a
	// dereferenced concept carries labels in several languages.
	ConceptLanguages []string

	AMQP    AMQPConfig
	DB      DBConfig
	Redis   RedisConfig
	Sources SourcesConfig
	Archive ArchiveConfig

	Harvesters  []HarvesterConfig
	Identifiers []IdentifierConfig
}

// Load reads configuration from the environment and from the two YAML
// registry files. Missing registry files are an error: the service
// cannot decide which harvesters to run without them.
func Load() (*Config, error) {
	cfg := &Config{
		Env: getEnv("HARVEST_ENV", "dev"),

		HealthHost: getEnv("HARVEST_HEALTH_HOST", "0.0.0.0"),
		HealthPort: getEnvInt("HARVEST_HEALTH_PORT", 8000),

		ResultTimeout:      getEnvDurationSecs("HARVEST_RESULT_TIMEOUT", 600),
		MaxExpectedResults: getEnvInt("HARVEST_MAX_EXPECTED_RESULTS", 10000),

		ConceptLanguages: getEnvList("HARVEST_CONCEPT_LANGUAGES", "en,fr"),

		AMQP: AMQPConfig{
			Enabled:  getEnvBool("HARVEST_AMQP_ENABLED", true),
			Host:     getEnv("HARVEST_AMQP_HOST", "localhost:5672"),
			User:     getEnv("HARVEST_AMQP_USER", "guest"),
			Password: getEnv("HARVEST_AMQP_PASSWORD", "guest"),

			ExchangeName:        getEnv("HARVEST_AMQP_EXCHANGE_NAME", "publications"),
			QueueName:           getEnv("HARVEST_AMQP_QUEUE_NAME", "publications-retrieval"),
			RetrievalRoutingKey: getEnv("HARVEST_AMQP_RETRIEVAL_ROUTING_KEY", "task.person.references.retrieval"),

			PrefetchCount:      getEnvInt("HARVEST_AMQP_PREFETCH_COUNT", 50),
			ConsumerAckTimeout: getEnvDurationSecs("HARVEST_AMQP_CONSUMER_ACK_TIMEOUT", 3600),
			WaitBeforeShutdown: getEnvDurationSecs("HARVEST_AMQP_WAIT_BEFORE_SHUTDOWN", 30),

			TaskQueueLength:  getEnvInt("HARVEST_AMQP_TASK_QUEUE_LENGTH", 100),
			ParallelismLimit: getEnvInt("HARVEST_AMQP_TASK_PARALLELISM_LIMIT", 4),
		},

		DB: DBConfig{
			Host:         getEnv("HARVEST_DB_HOST", "localhost"),
			Port:         getEnvInt("HARVEST_DB_PORT", 5432),
			Name:         getEnv("HARVEST_DB_NAME", "svp_harvest"),
			User:         getEnv("HARVEST_DB_USER", "postgres"),
			Password:     getEnv("HARVEST_DB_PASSWORD", "postgres"),
			SSLMode:      getEnv("HARVEST_DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("HARVEST_DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvInt("HARVEST_DB_MAX_IDLE_CONNS", 5),
		},

		Redis: RedisConfig{
			Host:                   getEnv("HARVEST_REDIS_HOST", "localhost"),
			Port:                   getEnvInt("HARVEST_REDIS_PORT", 6379),
			DB:                     getEnvInt("HARVEST_REDIS_DB", 0),
			Password:               getEnv("HARVEST_REDIS_PASSWORD", ""),
			ThirdAPICachingEnabled: getEnvBool("HARVEST_THIRD_API_CACHING_ENABLED", true),
			DefaultTTL:             getEnvDurationSecs("HARVEST_REDIS_DEFAULT_TTL", 86400),
			NamespaceTTLs:          getEnvTTLMap("HARVEST_REDIS_NAMESPACE_TTLS"),
		},

		Sources: SourcesConfig{
			HalURL:        getEnv("HARVEST_HAL_URL", "https://api.archives-ouvertes.fr/search/"),
			OpenAlexURL:   getEnv("HARVEST_OPEN_ALEX_URL", "https://api.openalex.org/works"),
			OpenAlexEmail: getEnv("HARVEST_OPEN_ALEX_EMAIL", ""),
			ScanRURL:      getEnv("HARVEST_SCANR_URL", "https://cluster-production.elasticsearch.dataesr.ovh/scanr-publications/_search"),

			ScopusURL:       getEnv("HARVEST_SCOPUS_URL", "https://api.elsevier.com/content/search/scopus"),
			ScopusAPIKey:    getEnv("HARVEST_SCOPUS_API_KEY", ""),
			ScopusInstToken: getEnv("HARVEST_SCOPUS_INST_TOKEN", ""),

			IdrefSparqlEndpoint:     getEnv("HARVEST_IDREF_SPARQL_ENDPOINT", "https://data.idref.fr/sparql"),
			IdrefSparqlTimeout:      getEnvDurationSecs("HARVEST_IDREF_SPARQL_TIMEOUT", 20),
			IdrefSudocTimeout:       getEnvDurationSecs("HARVEST_IDREF_SUDOC_TIMEOUT", 20),
			IdrefSciencePlusTimeout: getEnvDurationSecs("HARVEST_IDREF_SCIENCE_PLUS_TIMEOUT", 20),
			SciencePlusURL:          getEnv("HARVEST_SCIENCE_PLUS_URL", "https://scienceplus.abes.fr/sparql"),
			OpenEditionURL:          getEnv("HARVEST_OPEN_EDITION_URL", "https://oai.openedition.org/"),
		},

		Archive: ArchiveConfig{
			Enabled:        getEnvBool("HARVEST_ARCHIVE_ENABLED", false),
			Backend:        getEnv("HARVEST_ARCHIVE_BACKEND", "local"),
			Format:         getEnv("HARVEST_ARCHIVE_FORMAT", "jsonl"),
			LocalDir:       getEnv("HARVEST_ARCHIVE_LOCAL_DIR", "./archive"),
			MinioEndpoint:  getEnv("HARVEST_MINIO_ENDPOINT", "localhost:9000"),
			MinioAccessKey: getEnv("HARVEST_MINIO_ACCESS_KEY", ""),
			MinioSecretKey: getEnv("HARVEST_MINIO_SECRET_KEY", ""),
			MinioBucket:    getEnv("HARVEST_MINIO_BUCKET", "harvest-raw"),
			MinioUseSSL:    getEnvBool("HARVEST_MINIO_USE_SSL", false),
		},
	}

	harvestersFile := getEnv("HARVEST_HARVESTERS_FILE", "./config/harvesters.yml")
	harvesters, err := loadHarvesters(harvestersFile)
	if err != nil {
		return nil, fmt.Errorf("loading harvesters registry %s: %w", harvestersFile, err)
	}
	cfg.Harvesters = harvesters

	identifiersFile := getEnv("HARVEST_IDENTIFIERS_FILE", "./config/identifiers.yml")
	identifiers, err := loadIdentifiers(identifiersFile)
	if err != nil {
		return nil, fmt.Errorf("loading identifiers registry %s: %w", identifiersFile, err)
	}
	cfg.Identifiers = identifiers

	return cfg, nil
}

// IdentifierTypes returns the accepted identifier type names in
// registry order.
func (c *Config) IdentifierTypes() []string {
	types := make([]string, 0, len(c.Identifiers))
	for _, id := range c.Identifiers {
		types = append(types, id.Type)
	}
	return types
}

// EnabledHarvesters returns the enabled harvester entries in registry
// order. Registry order drives harvester launch order.
func (c *Config) EnabledHarvesters() []HarvesterConfig {
	enabled := make([]HarvesterConfig, 0, len(c.Harvesters))
	for _, h := range c.Harvesters {
		if h.Enabled {
			enabled = append(enabled, h)
		}
	}
	return enabled
}

func loadHarvesters(path string) ([]HarvesterConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []HarvesterConfig
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for i, entry := range entries {
		if entry.Name == "" {
			return nil, fmt.Errorf("entry %d has no name", i)
		}
	}
	return entries, nil
}

func loadIdentifiers(path string) ([]IdentifierConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []IdentifierConfig
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for i, entry := range entries {
		if entry.Type == "" {
			return nil, fmt.Errorf("entry %d has no type", i)
		}
	}
	return entries, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationSecs(key string, defaultSecs int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSecs)) * time.Second
}

func getEnvTTLMap(key string) map[string]time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	out := make(map[string]time.Duration)
	for _, pair := range strings.Split(val, ",") {
		name, secs, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		if n, err := strconv.Atoi(secs); err == nil {
			out[name] = time.Duration(n) * time.Second
		}
	}
	return out
}

func getEnvList(key, defaultVal string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultVal), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
