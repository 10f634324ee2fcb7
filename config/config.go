package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"skillendorse/account"
	"skillendorse/gateway"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the configuration shared by the dashboard and the CLI.
type Config struct {
	Ledger     LedgerConfig     `toml:"ledger"`
	Pinning    PinningConfig    `toml:"pinning"`
	Validators ValidatorsConfig `toml:"validators"`
	Dashboard  DashboardConfig  `toml:"dashboard"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Logging    LoggingConfig    `toml:"logging"`
}

// LedgerConfig locates the peer, the wallet and the deployed contracts.
type LedgerConfig struct {
	// PeerEndpoint is the host:port of the gateway peer.
	PeerEndpoint string `toml:"peer_endpoint"`

	// PeerHostOverride is the TLS server name expected from the peer.
	PeerHostOverride string `toml:"peer_host_override"`

	// TLSCertPath is the peer's TLS CA certificate (file or directory).
	TLSCertPath string `toml:"tls_cert_path"`

	MSPID    string `toml:"msp_id"`
	CertPath string `toml:"cert_path"`
	KeyPath  string `toml:"key_path"`

	Channel   string `toml:"channel"`
	Chaincode string `toml:"chaincode"`

	// ManagerContract holds endorsements and validator roles.
	ManagerContract string `toml:"manager_contract"`

	// TokenContract holds reward balances.
	TokenContract string `toml:"token_contract"`

	EvaluateTimeout Duration `toml:"evaluate_timeout"`
	EndorseTimeout  Duration `toml:"endorse_timeout"`
	SubmitTimeout   Duration `toml:"submit_timeout"`
	CommitTimeout   Duration `toml:"commit_timeout"`
}

// PinningConfig configures the content pinning service.
type PinningConfig struct {
	Endpoint     string `toml:"endpoint"`
	APIKey       string `toml:"api_key"`
	SecretAPIKey string `toml:"secret_api_key"`

	// GatewayHost serves pinned content over HTTPS.
	GatewayHost string `toml:"gateway_host"`

	// MaxUploadBytes bounds a single attachment.
	MaxUploadBytes int64 `toml:"max_upload_bytes"`

	Timeout Duration `toml:"timeout"`
}

// ValidatorsConfig holds the validators seeded by init-ledger. After
// initialization the ledger's own list is authoritative.
type ValidatorsConfig struct {
	Bootstrap []string `toml:"bootstrap"`
}

// DashboardConfig configures the HTTP dashboard.
type DashboardConfig struct {
	ListenAddr string `toml:"listen_addr"`

	// IdempotencyPath is the bolt file holding replayable responses.
	IdempotencyPath string `toml:"idempotency_path"`

	// IdempotencyTTL is how long a stored response is replayed.
	IdempotencyTTL Duration `toml:"idempotency_ttl"`

	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `toml:"namespace"`
}

// LoggingConfig is handed to flogging.Init.
type LoggingConfig struct {
	// Spec is a flogging log spec such as "info" or "skillendorse.gateway=debug:warning".
	Spec string `toml:"spec"`

	// Format is "json" or a go-logging format string. Empty keeps the default.
	Format string `toml:"format"`
}

// Duration is a wrapper around time.Duration for TOML unmarshaling.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a Config pointing at a local test network.
func DefaultConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			PeerEndpoint:     "localhost:7051",
			PeerHostOverride: "peer0.org1.example.com",
			TLSCertPath:      "wallet/tls/ca.crt",
			MSPID:            "Org1MSP",
			CertPath:         "wallet/signcerts",
			KeyPath:          "wallet/keystore",
			Channel:          "mychannel",
			Chaincode:        "skillendorse",
			ManagerContract:  "EndorsementContract",
			TokenContract:    "TokenContract",
			EvaluateTimeout:  Duration(5 * time.Second),
			EndorseTimeout:   Duration(15 * time.Second),
			SubmitTimeout:    Duration(5 * time.Second),
			CommitTimeout:    Duration(time.Minute),
		},
		Pinning: PinningConfig{
			Endpoint:       "https://api.pinata.cloud/pinning/pinFileToIPFS",
			GatewayHost:    "gateway.pinata.cloud",
			MaxUploadBytes: 10 << 20, // 10MB
			Timeout:        Duration(60 * time.Second),
		},
		Validators: ValidatorsConfig{
			Bootstrap: []string{
				"0x14dC79964da2C08b23698B3D3cc7Ca32193d9955",
				"0xa0Ee7A142d267C1f36714E4a8F75612F20a79720",
				"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			},
		},
		Dashboard: DashboardConfig{
			ListenAddr:      ":8080",
			IdempotencyPath: "data/idempotency.db",
			IdempotencyTTL:  Duration(24 * time.Hour),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{
			Namespace: "skillendorse",
		},
		Logging: LoggingConfig{
			Spec: "info",
		},
	}
}

// LoadConfig loads configuration from a TOML file, then applies the
// environment. An empty path skips the file and starts from defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadEnvFiles reads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Environment variables that override the file.
const (
	EnvPinataAPIKey       = "PINATA_API_KEY"
	EnvPinataSecretAPIKey = "PINATA_SECRET_API_KEY"
	EnvManagerContract    = "MANAGER_CONTRACT"
	EnvTokenContract      = "TOKEN_CONTRACT"
	EnvPeerEndpoint       = "ENDORSE_PEER_ENDPOINT"
	EnvCertPath           = "ENDORSE_CERT_PATH"
	EnvKeyPath            = "ENDORSE_KEY_PATH"
	EnvTLSCertPath        = "ENDORSE_TLS_CERT_PATH"
	EnvListenAddr         = "ENDORSE_LISTEN_ADDR"
	EnvLogSpec            = "ENDORSE_LOG_SPEC"
)

// ApplyEnv overrides fields from non-empty variables returned by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		EnvPinataAPIKey:       &c.Pinning.APIKey,
		EnvPinataSecretAPIKey: &c.Pinning.SecretAPIKey,
		EnvManagerContract:    &c.Ledger.ManagerContract,
		EnvTokenContract:      &c.Ledger.TokenContract,
		EnvPeerEndpoint:       &c.Ledger.PeerEndpoint,
		EnvCertPath:           &c.Ledger.CertPath,
		EnvKeyPath:            &c.Ledger.KeyPath,
		EnvTLSCertPath:        &c.Ledger.TLSCertPath,
		EnvListenAddr:         &c.Dashboard.ListenAddr,
		EnvLogSpec:            &c.Logging.Spec,
	}
	for name, field := range overrides {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*field = strings.TrimSpace(v)
		}
	}
}

// ConnectOptions maps the ledger section onto fabricgw.Connect.
func (c *Config) ConnectOptions() gateway.ConnectOptions {
	return gateway.ConnectOptions{
		PeerEndpoint:     c.Ledger.PeerEndpoint,
		PeerHostOverride: c.Ledger.PeerHostOverride,
		TLSCertPath:      c.Ledger.TLSCertPath,
		MSPID:            c.Ledger.MSPID,
		CertPath:         c.Ledger.CertPath,
		KeyPath:          c.Ledger.KeyPath,
		Channel:          c.Ledger.Channel,
		Chaincode:        c.Ledger.Chaincode,
		ManagerContract:  c.Ledger.ManagerContract,
		TokenContract:    c.Ledger.TokenContract,
		EvaluateTimeout:  c.Ledger.EvaluateTimeout.Duration(),
		EndorseTimeout:   c.Ledger.EndorseTimeout.Duration(),
		SubmitTimeout:    c.Ledger.SubmitTimeout.Duration(),
		CommitTimeout:    c.Ledger.CommitTimeout.Duration(),
	}
}

// Validation errors.
var (
	ErrEmptyPeerEndpoint      = errors.New("peer_endpoint cannot be empty")
	ErrEmptyMSPID             = errors.New("msp_id cannot be empty")
	ErrEmptyChannel           = errors.New("channel cannot be empty")
	ErrEmptyChaincode         = errors.New("chaincode cannot be empty")
	ErrEmptyManagerContract   = errors.New("manager_contract cannot be empty")
	ErrEmptyTokenContract     = errors.New("token_contract cannot be empty")
	ErrInvalidLedgerTimeout   = errors.New("ledger timeouts must be non-negative")
	ErrEmptyPinningEndpoint   = errors.New("pinning endpoint cannot be empty")
	ErrEmptyGatewayHost       = errors.New("pinning gateway_host cannot be empty")
	ErrInvalidMaxUploadBytes  = errors.New("pinning max_upload_bytes must be positive")
	ErrInvalidPinningTimeout  = errors.New("pinning timeout must be positive")
	ErrInvalidBootstrap       = errors.New("bootstrap validators must be well-formed addresses")
	ErrEmptyListenAddr        = errors.New("dashboard listen_addr cannot be empty")
	ErrEmptyIdempotencyPath   = errors.New("dashboard idempotency_path cannot be empty")
	ErrInvalidIdempotencyTTL  = errors.New("dashboard idempotency_ttl must be positive")
	ErrInvalidShutdownTimeout = errors.New("dashboard shutdown_timeout must be positive")
	ErrEmptyMetricsNamespace  = errors.New("metrics namespace cannot be empty")
	ErrEmptyLogSpec           = errors.New("log spec cannot be empty")
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger config: %w", err)
	}
	if err := c.Pinning.Validate(); err != nil {
		return fmt.Errorf("pinning config: %w", err)
	}
	if err := c.Validators.Validate(); err != nil {
		return fmt.Errorf("validators config: %w", err)
	}
	if err := c.Dashboard.Validate(); err != nil {
		return fmt.Errorf("dashboard config: %w", err)
	}
	if c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics config: %w", ErrEmptyMetricsNamespace)
	}
	if strings.TrimSpace(c.Logging.Spec) == "" {
		return fmt.Errorf("logging config: %w", ErrEmptyLogSpec)
	}
	return nil
}

// Validate checks the ledger configuration for errors.
func (c *LedgerConfig) Validate() error {
	switch {
	case c.PeerEndpoint == "":
		return ErrEmptyPeerEndpoint
	case c.MSPID == "":
		return ErrEmptyMSPID
	case c.Channel == "":
		return ErrEmptyChannel
	case c.Chaincode == "":
		return ErrEmptyChaincode
	case c.ManagerContract == "":
		return ErrEmptyManagerContract
	case c.TokenContract == "":
		return ErrEmptyTokenContract
	}
	for _, d := range []Duration{c.EvaluateTimeout, c.EndorseTimeout, c.SubmitTimeout, c.CommitTimeout} {
		if d < 0 {
			return ErrInvalidLedgerTimeout
		}
	}
	return nil
}

// Validate checks the pinning configuration for errors. Credentials are
// checked at upload time so read-only commands work without them.
func (c *PinningConfig) Validate() error {
	if c.Endpoint == "" {
		return ErrEmptyPinningEndpoint
	}
	if c.GatewayHost == "" {
		return ErrEmptyGatewayHost
	}
	if c.MaxUploadBytes <= 0 {
		return ErrInvalidMaxUploadBytes
	}
	if c.Timeout.Duration() <= 0 {
		return ErrInvalidPinningTimeout
	}
	return nil
}

// Validate checks that every bootstrap entry is an address.
func (c *ValidatorsConfig) Validate() error {
	for _, v := range c.Bootstrap {
		if _, err := account.Normalize(v); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidBootstrap, v, err)
		}
	}
	return nil
}

// Validate checks the dashboard configuration for errors.
func (c *DashboardConfig) Validate() error {
	if c.ListenAddr == "" {
		return ErrEmptyListenAddr
	}
	if c.IdempotencyPath == "" {
		return ErrEmptyIdempotencyPath
	}
	if c.IdempotencyTTL.Duration() <= 0 {
		return ErrInvalidIdempotencyTTL
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return ErrInvalidShutdownTimeout
	}
	return nil
}

// WriteConfigFile writes the configuration to a TOML file.
func WriteConfigFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}
