package config

// Config is the top-level YAML structure.
type Config struct {
	Version      string            `yaml:"version"`
	Engine       EngineConf        `yaml:"engine"`
	Destinations []DestinationConf `yaml:"destinations"`
}

// EngineConf holds tunable concurrency and ingest settings.
type EngineConf struct {
	EventWorkers    int     `yaml:"event_workers"`
	BatchWorkers    int     `yaml:"batch_workers"`
	QueueDepth      int     `yaml:"queue_depth"`
	EventTimeoutMs  int     `yaml:"event_timeout_ms"`
	MaxBatchSize    int     `yaml:"max_batch_size"`
	IngestRateLimit float64 `yaml:"ingest_rate_limit"` // events/sec, 0 = unlimited
	IngestBurst     int     `yaml:"ingest_burst"`
	FQLCacheSize    int     `yaml:"fql_cache_size"`
}

// DestinationConf binds a registered destination to settings and the
// subscriptions that feed it.
type DestinationConf struct {
	ID          string         `yaml:"id"`
	Destination string         `yaml:"destination"` // registered slug
	Settings    map[string]any `yaml:"settings"`

	Retries          int     `yaml:"retries"`
	TimeoutMs        int     `yaml:"timeout_ms"`
	RateLimit        float64 `yaml:"rate_limit"`
	RateBurst        int     `yaml:"rate_burst"`
	BreakerFailures  uint32  `yaml:"breaker_failures"`
	BreakerTimeoutMs int     `yaml:"breaker_timeout_ms"`
	Concurrency      int     `yaml:"concurrency"`

	Subscriptions []SubscriptionConf `yaml:"subscriptions"`
}

// SubscriptionConf pairs an FQL query with a partner action and the
// mapping template that builds its payload.
type SubscriptionConf struct {
	ID            string         `yaml:"id"`
	Name          string         `yaml:"name"`
	Enabled       bool           `yaml:"enabled"`
	Subscribe     string         `yaml:"subscribe"`
	PartnerAction string         `yaml:"partner_action"`
	Mapping       map[string]any `yaml:"mapping"`
}
