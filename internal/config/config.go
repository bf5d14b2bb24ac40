package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/lora-pkt-fwd/internal/validation"
	"github.com/lorawan-server/lora-pkt-fwd/pkg/lorawan"
)

// Config represents the packet forwarder configuration
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Server   ServerConfig   `yaml:"server"`
	Radio    RadioConfig    `yaml:"radio"`
	JIT      JITConfig      `yaml:"jit"`
	Spool    SpoolConfig    `yaml:"spool"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	API      APIConfig      `yaml:"api"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
}

// GatewayConfig identifies the gateway in PUSH_DATA/PULL_DATA and in status reports
type GatewayConfig struct {
	ID           string  `yaml:"id" validate:"required"`
	RefLatitude  float64 `yaml:"ref_latitude"`
	RefLongitude float64 `yaml:"ref_longitude"`
	RefAltitude  int     `yaml:"ref_altitude"`
	Platform     string  `yaml:"platform"`
	Email        string  `yaml:"email"`
	Description  string  `yaml:"description"`
}

// EUI returns the parsed gateway identifier
func (g GatewayConfig) EUI() (lorawan.EUI64, error) {
	return lorawan.ParseEUI64(g.ID)
}

// ServerConfig represents the network server link
type ServerConfig struct {
	Address           string        `yaml:"address" validate:"required"`
	PortUp            int           `yaml:"serv_port_up" validate:"min=1,max=65535"`
	PortDown          int           `yaml:"serv_port_down" validate:"min=1,max=65535"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	StatInterval      time.Duration `yaml:"stat_interval"`
	PushTimeout       time.Duration `yaml:"push_timeout"`
	PullTimeout       time.Duration `yaml:"pull_timeout"`
	AutoquitThreshold int           `yaml:"autoquit_threshold" validate:"min=0"`
}

// RadioConfig represents the single transceiver
type RadioConfig struct {
	Driver       string        `yaml:"driver" validate:"oneof=stub rylr896"`
	Device       string        `yaml:"device"`
	BaudRate     int           `yaml:"baud_rate"`
	Region       string        `yaml:"region"`
	Frequency    uint32        `yaml:"frequency" validate:"required"`
	SpreadFactor int           `yaml:"spread_factor" validate:"min=7,max=12"`
	Bandwidth    uint32        `yaml:"bandwidth" validate:"oneof=125000 250000 500000"`
	CodingRate   int           `yaml:"coding_rate" validate:"min=5,max=8"`
	Preamble     int           `yaml:"preamble" validate:"min=6"`
	SyncWord     uint8         `yaml:"sync_word"`
	Power        int           `yaml:"power"`
	TxFreqMin    uint32        `yaml:"tx_freq_min"`
	TxFreqMax    uint32        `yaml:"tx_freq_max"`
	TxPowerMax   int           `yaml:"tx_power_max"`
	RxTimeout    time.Duration `yaml:"rx_timeout"`
	FetchSleep   time.Duration `yaml:"fetch_sleep"`
	RingSize     int           `yaml:"ring_size" validate:"min=1"`
}

// JITConfig represents the downlink admission constants
type JITConfig struct {
	Capacity     int           `yaml:"capacity" validate:"min=1"`
	StartDelay   time.Duration `yaml:"start_delay"`
	MarginDelay  time.Duration `yaml:"margin_delay"`
	JitDelay     time.Duration `yaml:"jit_delay"`
	MaxAdvance   time.Duration `yaml:"max_advance"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SpoolConfig represents the local push directory
type SpoolConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	Interval time.Duration `yaml:"interval"`
}

// DatabaseConfig represents database configuration, an empty DSN disables the audit store
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration, an empty URL disables it
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents the MQTT bridge, an empty broker disables it
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos" validate:"max=2"`
}

// WebhookConfig represents the HTTP uplink webhook, an empty URL disables it
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// APIConfig represents the local admin API
type APIConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Host              string `yaml:"host"`
	Port              int    `yaml:"port" validate:"max=65535"`
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Load reads the YAML file, applies environment overrides and fills defaults
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse is Load without the file
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if id := os.Getenv("GATEWAY_ID"); id != "" {
		c.Gateway.ID = id
	}

	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

func (c *Config) setDefaults() error {
	c.setDefaultServer()
	if err := c.setDefaultRadio(); err != nil {
		return err
	}
	c.setDefaultJIT()
	c.setDefaultStatus()

	if c.Spool.Path == "" {
		c.Spool.Path = "/var/iot/push"
	}
	if c.Spool.Interval == 0 {
		c.Spool.Interval = 100 * time.Millisecond
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 5
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "gateway"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "pkt-fwd-" + c.Gateway.ID
	}

	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}

	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.AdminUser == "" {
		c.API.AdminUser = "admin"
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 24 * time.Hour
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	return nil
}

// setDefaultServer 设置服务器链路默认值
func (c *Config) setDefaultServer() {
	if c.Server.Address == "" {
		c.Server.Address = "localhost"
	}
	if c.Server.PortUp == 0 {
		c.Server.PortUp = 1700
	}
	if c.Server.PortDown == 0 {
		c.Server.PortDown = 1700
	}
	if c.Server.KeepaliveInterval == 0 {
		c.Server.KeepaliveInterval = 5 * time.Second
	}
	if c.Server.StatInterval == 0 {
		c.Server.StatInterval = 45 * time.Second
	}
	if c.Server.PushTimeout == 0 {
		c.Server.PushTimeout = 100 * time.Millisecond
	}
	if c.Server.PullTimeout == 0 {
		c.Server.PullTimeout = 200 * time.Millisecond
	}
}

// setDefaultRadio 设置射频默认值，发射限制取自频段表
func (c *Config) setDefaultRadio() error {
	region, err := lorawan.GetRegionConfiguration(c.Radio.Region)
	if err != nil {
		return err
	}
	c.Radio.Region = region.Name

	if c.Radio.Driver == "" {
		c.Radio.Driver = "stub"
	}
	if c.Radio.Device == "" {
		c.Radio.Device = "/dev/ttyS0"
	}
	if c.Radio.BaudRate == 0 {
		c.Radio.BaudRate = 115200
	}
	if c.Radio.Frequency == 0 {
		c.Radio.Frequency = region.DefaultFrequency
	}
	if c.Radio.SpreadFactor == 0 {
		c.Radio.SpreadFactor = 7
	}
	if c.Radio.Bandwidth == 0 {
		c.Radio.Bandwidth = lorawan.BW125
	}
	if c.Radio.CodingRate == 0 {
		c.Radio.CodingRate = 5
	}
	if c.Radio.Preamble == 0 {
		c.Radio.Preamble = 8
	}
	if c.Radio.SyncWord == 0 {
		c.Radio.SyncWord = 0x34 // LoRaWAN 公网同步字
	}
	if c.Radio.Power == 0 {
		c.Radio.Power = 16
	}
	if c.Radio.TxFreqMin == 0 {
		c.Radio.TxFreqMin = region.TxFreqMin
	}
	if c.Radio.TxFreqMax == 0 {
		c.Radio.TxFreqMax = region.TxFreqMax
	}
	if c.Radio.TxPowerMax == 0 {
		c.Radio.TxPowerMax = region.MaxTxPower
	}
	if c.Radio.RxTimeout == 0 {
		c.Radio.RxTimeout = 5 * time.Second
	}
	if c.Radio.FetchSleep == 0 {
		c.Radio.FetchSleep = 10 * time.Millisecond
	}
	if c.Radio.RingSize == 0 {
		c.Radio.RingSize = 8
	}
	return nil
}

func (c *Config) setDefaultJIT() {
	if c.JIT.Capacity == 0 {
		c.JIT.Capacity = 32
	}
	if c.JIT.StartDelay == 0 {
		c.JIT.StartDelay = 1500 * time.Microsecond
	}
	if c.JIT.MarginDelay == 0 {
		c.JIT.MarginDelay = time.Millisecond
	}
	if c.JIT.JitDelay == 0 {
		c.JIT.JitDelay = 30 * time.Millisecond
	}
	if c.JIT.MaxAdvance == 0 {
		c.JIT.MaxAdvance = 3 * 128 * time.Second
	}
	if c.JIT.PollInterval == 0 {
		c.JIT.PollInterval = 10 * time.Millisecond
	}
}

func (c *Config) setDefaultStatus() {
	if c.Gateway.Platform == "" {
		c.Gateway.Platform = "GPSHAT"
	}
	if c.Gateway.Email == "" {
		c.Gateway.Email = "support@dragino.com"
	}
	if c.Gateway.Description == "" {
		c.Gateway.Description = "DESC"
	}
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	v := validation.NewValidator()
	if err := v.Validate(c); err != nil {
		return err
	}

	if _, err := c.Gateway.EUI(); err != nil {
		return fmt.Errorf("gateway.id: %w", err)
	}
	if c.Radio.TxFreqMin > c.Radio.TxFreqMax {
		return fmt.Errorf("radio: tx_freq_min %d above tx_freq_max %d", c.Radio.TxFreqMin, c.Radio.TxFreqMax)
	}
	if c.Server.PullTimeout >= c.Server.KeepaliveInterval {
		return fmt.Errorf("server: pull_timeout must be shorter than keepalive_interval")
	}
	if c.API.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required when the API is enabled")
	}
	if c.Radio.Power > c.Radio.TxPowerMax {
		log.Warn().
			Int("power", c.Radio.Power).
			Int("tx_power_max", c.Radio.TxPowerMax).
			Msg("默认发射功率超过频段上限，未指定 powe 的下行将被拒绝")
	}
	return nil
}

// PrintConfigSummary 打印配置摘要
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== LoRa Packet Forwarder Configuration ===\n")
	fmt.Printf("Gateway ID: %s\n", c.Gateway.ID)
	fmt.Printf("Server: %s (up %d, down %d)\n", c.Server.Address, c.Server.PortUp, c.Server.PortDown)
	fmt.Printf("Keepalive: %s, Stat interval: %s, Autoquit: %d\n",
		c.Server.KeepaliveInterval, c.Server.StatInterval, c.Server.AutoquitThreshold)
	fmt.Printf("Radio: %s, region %s\n", c.Radio.Driver, c.Radio.Region)
	fmt.Printf("  RX: %.3f MHz SF%d BW%d 4/%d, preamble %d, sync word 0x%02x\n",
		float64(c.Radio.Frequency)/1000000,
		c.Radio.SpreadFactor,
		c.Radio.Bandwidth/1000,
		c.Radio.CodingRate,
		c.Radio.Preamble,
		c.Radio.SyncWord)
	fmt.Printf("  TX: %.3f-%.3f MHz, default %d dBm, max %d dBm\n",
		float64(c.Radio.TxFreqMin)/1000000,
		float64(c.Radio.TxFreqMax)/1000000,
		c.Radio.Power,
		c.Radio.TxPowerMax)
	fmt.Printf("JIT: capacity %d, margin %s, max advance %s\n",
		c.JIT.Capacity, c.JIT.StartDelay+c.JIT.MarginDelay+c.JIT.JitDelay, c.JIT.MaxAdvance)
	if c.Spool.Enabled {
		fmt.Printf("Spool: %s every %s\n", c.Spool.Path, c.Spool.Interval)
	}
	fmt.Printf("Database: %v, NATS: %v, MQTT: %v, Webhook: %v, API: %v\n",
		c.Database.DSN != "", c.NATS.URL != "", c.MQTT.Broker != "", c.Webhook.URL != "", c.API.Enabled)
	fmt.Printf("==========================================\n")
}
