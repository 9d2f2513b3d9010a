package config

import "time"

// Chat definition chat_service YAML structure
type Chat struct {
	Port           string        `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// Storage mongo | memory
	Storage       string           `mapstructure:"storage"`
	MongoSQL      DatabaseConfig   `mapstructure:"mongo"`
	Redis         RedisConfig      `mapstructure:"redis"`
	PostgreSQL    DatabaseConfig   `mapstructure:"pg"`
	Kafka         KafkaConfig      `mapstructure:"kafka"`
	RabbitMQ      DatabaseConfig   `mapstructure:"rabbitmq"`
	Identity      IdentityConfig   `mapstructure:"identity"`
	Policy        PolicyConfig     `mapstructure:"policy"`
	Sequencer     SequencerConfig  `mapstructure:"sequencer"`
	Push          PushConfig       `mapstructure:"push"`
	RateLimit     RateLimitConfig  `mapstructure:"rate_limit"`
	Presence      PresenceConfig   `mapstructure:"presence"`
	Calls         CallConfig       `mapstructure:"calls"`
	Gateway       GatewayConfig    `mapstructure:"gateway"`
	Background    BackgroundConfig `mapstructure:"background"`
	Features      FeatureFlags     `mapstructure:"features"`
	InternalToken string           `mapstructure:"internal_token"`
}

// PushWorker definition push_worker YAML structure
type PushWorker struct {
	RabbitMQ      DatabaseConfig `mapstructure:"rabbitmq"`
	Push          PushConfig     `mapstructure:"push"`
	Prefetch      int            `mapstructure:"prefetch"`
	RetryDelay    time.Duration  `mapstructure:"retry_delay"`
	InternalToken string         `mapstructure:"internal_token"`
}

// RedisConfig definition redis setting. Addr is used when no sentinel is configured in .env
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	RedisDB  int    `mapstructure:"redis_db"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig message event stream
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// IdentityConfig mode: introspect | jwt
type IdentityConfig struct {
	Mode          string        `mapstructure:"mode"`
	IntrospectURL string        `mapstructure:"introspect_url"`
	AuthScheme    string        `mapstructure:"auth_scheme"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// PolicyConfig conversation authority endpoints, {conversationId} is substituted
type PolicyConfig struct {
	PermsURL       string        `mapstructure:"perms_url"`
	MembersURL     string        `mapstructure:"members_url"`
	LastMessageURL string        `mapstructure:"last_message_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	// AllowAll skips the perms call, dev only
	AllowAll bool `mapstructure:"allow_all"`
}

// SequencerConfig mode: http | postgres | memory
type SequencerConfig struct {
	Mode    string        `mapstructure:"mode"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PushConfig transport: http | amqp | none
type PushConfig struct {
	Transport string        `mapstructure:"transport"`
	URL       string        `mapstructure:"url"`
	Queue     string        `mapstructure:"queue"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig per action fixed windows, unlisted actions use Default
type RateLimitConfig struct {
	Default RateRule            `mapstructure:"default"`
	Actions map[string]RateRule `mapstructure:"actions"`
	// ConnectPerSecond token bucket per remote IP in front of the upgrade
	ConnectPerSecond float64 `mapstructure:"connect_per_second"`
	ConnectBurst     int     `mapstructure:"connect_burst"`
}

// RateRule limit per window
type RateRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// PresenceConfig redis counter ttl
type PresenceConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// CallConfig call signaling
type CallConfig struct {
	SignalLogMax int `mapstructure:"signal_log_max"`
}

// GatewayConfig websocket connection tuning
type GatewayConfig struct {
	SendBuffer    int           `mapstructure:"send_buffer"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	MaxGapSpan    int           `mapstructure:"max_gap_span"`
	MaxFrameBytes int           `mapstructure:"max_frame_bytes"`
}

// BackgroundConfig task runner for push / last message / events
type BackgroundConfig struct {
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// FeatureFlags optional surfaces
type FeatureFlags struct {
	Pins  bool `mapstructure:"pins"`
	Stars bool `mapstructure:"stars"`
	Push  bool `mapstructure:"push"`
	// Threads thread_create / thread_join / thread_leave
	Threads bool `mapstructure:"threads"`
	// Moderation report_message
	Moderation bool `mapstructure:"moderation"`
}

// DefaultRateRules limits applied when the YAML does not override an action
var DefaultRateRules = map[string]RateRule{
	"send":      {Limit: 25, Window: 5 * time.Second},
	"join":      {Limit: 60, Window: time.Minute},
	"leave":     {Limit: 60, Window: time.Minute},
	"edit":      {Limit: 60, Window: time.Minute},
	"delete":    {Limit: 60, Window: time.Minute},
	"history":   {Limit: 60, Window: time.Minute},
	"pin":       {Limit: 60, Window: time.Minute},
	"star":      {Limit: 60, Window: time.Minute},
	"react":     {Limit: 120, Window: time.Minute},
	"receipt":   {Limit: 200, Window: time.Minute},
	"typing":    {Limit: 300, Window: time.Minute},
	"gap_check": {Limit: 30, Window: time.Minute},
	"gap_fill":  {Limit: 20, Window: time.Minute},
	"call":      {Limit: 120, Window: time.Minute},
	"thread":    {Limit: 60, Window: time.Minute},
	"report":    {Limit: 10, Window: time.Minute},
}

// WithDefaults fills zero values
func (c Chat) WithDefaults() Chat {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 8 * time.Second
	}
	if c.Storage == "" {
		c.Storage = "mongo"
	}
	if c.Identity.Mode == "" {
		c.Identity.Mode = "introspect"
	}
	if c.Identity.AuthScheme == "" {
		c.Identity.AuthScheme = "Bearer"
	}
	if c.Identity.Timeout <= 0 {
		c.Identity.Timeout = 4 * time.Second
	}
	if c.Policy.Timeout <= 0 {
		c.Policy.Timeout = 4 * time.Second
	}
	if c.Sequencer.Mode == "" {
		c.Sequencer.Mode = "http"
	}
	if c.Sequencer.Timeout <= 0 {
		c.Sequencer.Timeout = 4 * time.Second
	}
	if c.Push.Transport == "" {
		c.Push.Transport = "none"
	}
	if c.Push.Queue == "" {
		c.Push.Queue = "chat.push"
	}
	if c.Push.Timeout <= 0 {
		c.Push.Timeout = 4 * time.Second
	}
	if c.RateLimit.Default.Limit <= 0 {
		c.RateLimit.Default = RateRule{Limit: 60, Window: time.Minute}
	}
	actions := make(map[string]RateRule, len(DefaultRateRules))
	for k, v := range DefaultRateRules {
		actions[k] = v
	}
	for k, v := range c.RateLimit.Actions {
		if v.Limit > 0 && v.Window > 0 {
			actions[k] = v
		}
	}
	c.RateLimit.Actions = actions
	if c.RateLimit.ConnectPerSecond <= 0 {
		c.RateLimit.ConnectPerSecond = 5
	}
	if c.RateLimit.ConnectBurst <= 0 {
		c.RateLimit.ConnectBurst = 20
	}
	if c.Presence.TTL <= 0 {
		c.Presence.TTL = 24 * time.Hour
	}
	if c.Calls.SignalLogMax <= 0 {
		c.Calls.SignalLogMax = 200
	}
	if c.Gateway.SendBuffer <= 0 {
		c.Gateway.SendBuffer = 256
	}
	if c.Gateway.WriteTimeout <= 0 {
		c.Gateway.WriteTimeout = 10 * time.Second
	}
	if c.Gateway.PingInterval <= 0 {
		c.Gateway.PingInterval = 30 * time.Second
	}
	if c.Gateway.MaxGapSpan <= 0 {
		c.Gateway.MaxGapSpan = 1000
	}
	if c.Gateway.MaxFrameBytes <= 0 {
		c.Gateway.MaxFrameBytes = 1 << 20
	}
	if c.Background.Workers <= 0 {
		c.Background.Workers = 4
	}
	if c.Background.QueueSize <= 0 {
		c.Background.QueueSize = 1024
	}
	if c.Background.MaxRetries <= 0 {
		c.Background.MaxRetries = 3
	}
	if c.Background.RetryDelay <= 0 {
		c.Background.RetryDelay = 500 * time.Millisecond
	}
	return c
}

// WithDefaults fills zero values
func (p PushWorker) WithDefaults() PushWorker {
	if p.Prefetch <= 0 {
		p.Prefetch = 16
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = 10 * time.Second
	}
	if p.Push.Queue == "" {
		p.Push.Queue = "chat.push"
	}
	if p.Push.Timeout <= 0 {
		p.Push.Timeout = 4 * time.Second
	}
	return p
}
