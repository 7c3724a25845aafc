package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/nerotrade/aaswap/core/chainio/aa"
	"github.com/nerotrade/aaswap/core/chainio/signer"
	"github.com/nerotrade/aaswap/pkg/logger"
)

// FeeMode selects how the builder fills maxFeePerGas/maxPriorityFeePerGas.
type FeeMode string

const (
	// FeeModeStatic uses the configured fee caps as is.
	FeeModeStatic FeeMode = "static"
	// FeeModeSuggested asks the chain for an EIP-1559 suggestion per build.
	FeeModeSuggested FeeMode = "suggested"

	KeystorePasswordEnv = "AASWAP_KEYSTORE_PASSWORD"
)

var (
	DefaultCallGasLimit         = big.NewInt(300000)
	DefaultVerificationGasLimit = big.NewInt(2000000)
	DefaultPreVerificationGas   = big.NewInt(100000)

	DefaultReceiptTimeout         = 60 * time.Second
	DefaultReceiptPollInterval    = 1 * time.Second
	DefaultReceiptMaxPollInterval = 5 * time.Second
)

// Config is the fully parsed pipeline configuration. It is passed explicitly
// into every component; nothing reads global state.
type Config struct {
	Environment sdklogging.LogLevel
	Logger      sdklogging.Logger `json:"-"`

	Chain     ChainConfig
	Contracts ContractsConfig
	Gas       GasConfig
	Receipt   ReceiptConfig

	BundlerURL      string
	PaymasterURL    string
	PaymasterAPIKey string `json:"-"`

	AccountSalt *big.Int

	TokenCacheTTL       time.Duration
	SerializePerAccount bool
	HttpBindAddress     string

	// SentryDsn enables error reporting from the HTTP gateway when set.
	SentryDsn  string
	ServerName string
	// JwtSecret signs gateway API keys. Empty leaves the gateway open.
	JwtSecret []byte

	OwnerPrivateKey   string `json:"-"`
	OwnerKeystorePath string
}

type ChainConfig struct {
	Name    ChainEnv
	ChainID *big.Int
	RpcURL  string
	Preset  ChainPreset
}

type ContractsConfig struct {
	EntryPoint     common.Address
	AccountFactory common.Address
	Paymaster      common.Address
	DexAggregator  common.Address
	SocialContract common.Address
}

// GasConfig holds the static defaults applied to every operation. They are
// conservative on purpose: operations are not simulated.
type GasConfig struct {
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	FeeMode              FeeMode
}

type ReceiptConfig struct {
	Timeout         time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// These are read from configPath
type ConfigRaw struct {
	Environment sdklogging.LogLevel `yaml:"environment" validate:"omitempty,oneof=development production"`
	Chain       string              `yaml:"chain"`
	ChainID     int64               `yaml:"chain_id" validate:"gte=0"`
	RpcURL      string              `yaml:"rpc_url" validate:"omitempty,url"`

	BundlerURL      string `yaml:"bundler_url" validate:"omitempty,url"`
	PaymasterURL    string `yaml:"paymaster_url" validate:"omitempty,url"`
	PaymasterAPIKey string `yaml:"paymaster_api_key"`

	Contracts ContractsRaw `yaml:"contracts"`
	Gas       GasRaw       `yaml:"gas"`
	Receipt   ReceiptRaw   `yaml:"receipt"`

	AccountSalt         int64  `yaml:"account_salt" validate:"gte=0"`
	TokenCacheTTL       string `yaml:"token_cache_ttl"`
	SerializePerAccount bool   `yaml:"serialize_per_account"`
	HttpBindAddress     string `yaml:"http_bind_address" validate:"omitempty,hostname_port"`
	SentryDsn           string `yaml:"sentry_dsn" validate:"omitempty,url"`
	ServerName          string `yaml:"server_name"`
	JwtSecret           string `yaml:"jwt_secret" validate:"omitempty,min=16"`

	OwnerPrivateKey   string `yaml:"owner_private_key"`
	OwnerKeystorePath string `yaml:"owner_keystore_path" validate:"omitempty,file"`
}

type ContractsRaw struct {
	EntryPoint     string `yaml:"entry_point" validate:"omitempty,eth_addr"`
	AccountFactory string `yaml:"account_factory" validate:"required,eth_addr"`
	Paymaster      string `yaml:"paymaster" validate:"omitempty,eth_addr"`
	DexAggregator  string `yaml:"dex_aggregator" validate:"required,eth_addr"`
	SocialContract string `yaml:"social_contract" validate:"required,eth_addr"`
}

type GasRaw struct {
	CallGasLimit         uint64  `yaml:"call_gas_limit"`
	VerificationGasLimit uint64  `yaml:"verification_gas_limit"`
	PreVerificationGas   uint64  `yaml:"pre_verification_gas"`
	MaxFeePerGas         uint64  `yaml:"max_fee_per_gas"`
	MaxPriorityFeePerGas uint64  `yaml:"max_priority_fee_per_gas"`
	FeeMode              FeeMode `yaml:"fee_mode" validate:"omitempty,oneof=static suggested"`
}

type ReceiptRaw struct {
	Timeout         string `yaml:"timeout"`
	PollInterval    string `yaml:"poll_interval"`
	MaxPollInterval string `yaml:"max_poll_interval"`
}

var validate = validator.New()

// DefaultConfig returns a NERO testnet configuration without deployment
// specific contract addresses or owner key.
func DefaultConfig() *Config {
	preset, _ := Preset(NeroTestnetEnv)
	return &Config{
		Environment: sdklogging.Production,
		Chain: ChainConfig{
			Name:    NeroTestnetEnv,
			ChainID: new(big.Int).Set(preset.ChainID),
			RpcURL:  preset.RpcURL,
			Preset:  preset,
		},
		Contracts: ContractsConfig{
			EntryPoint: aa.DefaultEntrypointAddress,
		},
		Gas: GasConfig{
			CallGasLimit:         new(big.Int).Set(DefaultCallGasLimit),
			VerificationGasLimit: new(big.Int).Set(DefaultVerificationGasLimit),
			PreVerificationGas:   new(big.Int).Set(DefaultPreVerificationGas),
			MaxFeePerGas:         new(big.Int).Set(preset.MaxFeePerGas),
			MaxPriorityFeePerGas: new(big.Int).Set(preset.MaxPriorityFeePerGas),
			FeeMode:              FeeModeStatic,
		},
		Receipt: ReceiptConfig{
			Timeout:         DefaultReceiptTimeout,
			PollInterval:    DefaultReceiptPollInterval,
			MaxPollInterval: DefaultReceiptMaxPollInterval,
		},
		BundlerURL:   preset.BundlerURL,
		PaymasterURL: preset.PaymasterURL,
		AccountSalt:  new(big.Int).Set(aa.DefaultSalt),
	}
}

// NewConfig reads and validates the yaml file at configFilePath and builds
// the logger for the configured environment.
func NewConfig(configFilePath string) (*Config, error) {
	raw, err := ReadConfigRaw(configFilePath)
	if err != nil {
		return nil, err
	}

	cfg, err := raw.Parse()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return nil, err
	}
	cfg.Logger = log

	return cfg, nil
}

// ReadConfigRaw loads the yaml file without interpreting it.
func ReadConfigRaw(configFilePath string) (*ConfigRaw, error) {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", configFilePath, err)
	}

	var raw ConfigRaw
	if err := yaml.UnmarshalStrict(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", configFilePath, err)
	}
	return &raw, nil
}

// Parse validates raw and merges it over the chain preset.
func (raw *ConfigRaw) Parse() (*Config, error) {
	if err := validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg := DefaultConfig()

	if raw.Chain != "" && ChainEnv(raw.Chain) != cfg.Chain.Name {
		preset, err := Preset(ChainEnv(raw.Chain))
		if err != nil {
			return nil, err
		}
		cfg.Chain = ChainConfig{Name: ChainEnv(raw.Chain), ChainID: preset.ChainID, RpcURL: preset.RpcURL, Preset: preset}
		cfg.BundlerURL = preset.BundlerURL
		cfg.PaymasterURL = preset.PaymasterURL
		cfg.Gas.MaxFeePerGas = new(big.Int).Set(preset.MaxFeePerGas)
		cfg.Gas.MaxPriorityFeePerGas = new(big.Int).Set(preset.MaxPriorityFeePerGas)
	}

	if raw.Environment != "" {
		cfg.Environment = raw.Environment
	}
	if raw.ChainID > 0 {
		cfg.Chain.ChainID = big.NewInt(raw.ChainID)
	}
	setString(&cfg.Chain.RpcURL, raw.RpcURL)
	setString(&cfg.BundlerURL, raw.BundlerURL)
	setString(&cfg.PaymasterURL, raw.PaymasterURL)
	cfg.PaymasterAPIKey = raw.PaymasterAPIKey

	if raw.Contracts.EntryPoint != "" {
		cfg.Contracts.EntryPoint = common.HexToAddress(raw.Contracts.EntryPoint)
	}
	cfg.Contracts.AccountFactory = common.HexToAddress(raw.Contracts.AccountFactory)
	cfg.Contracts.DexAggregator = common.HexToAddress(raw.Contracts.DexAggregator)
	cfg.Contracts.SocialContract = common.HexToAddress(raw.Contracts.SocialContract)
	if raw.Contracts.Paymaster != "" {
		cfg.Contracts.Paymaster = common.HexToAddress(raw.Contracts.Paymaster)
	}

	setBig(&cfg.Gas.CallGasLimit, raw.Gas.CallGasLimit)
	setBig(&cfg.Gas.VerificationGasLimit, raw.Gas.VerificationGasLimit)
	setBig(&cfg.Gas.PreVerificationGas, raw.Gas.PreVerificationGas)
	setBig(&cfg.Gas.MaxFeePerGas, raw.Gas.MaxFeePerGas)
	setBig(&cfg.Gas.MaxPriorityFeePerGas, raw.Gas.MaxPriorityFeePerGas)
	if raw.Gas.FeeMode != "" {
		cfg.Gas.FeeMode = raw.Gas.FeeMode
	}
	if cfg.Gas.MaxPriorityFeePerGas.Cmp(cfg.Gas.MaxFeePerGas) > 0 {
		return nil, fmt.Errorf("invalid config: max_priority_fee_per_gas %s exceeds max_fee_per_gas %s",
			cfg.Gas.MaxPriorityFeePerGas, cfg.Gas.MaxFeePerGas)
	}

	var err error
	if cfg.Receipt.Timeout, err = parseDuration("receipt.timeout", raw.Receipt.Timeout, cfg.Receipt.Timeout); err != nil {
		return nil, err
	}
	if cfg.Receipt.PollInterval, err = parseDuration("receipt.poll_interval", raw.Receipt.PollInterval, cfg.Receipt.PollInterval); err != nil {
		return nil, err
	}
	if cfg.Receipt.MaxPollInterval, err = parseDuration("receipt.max_poll_interval", raw.Receipt.MaxPollInterval, cfg.Receipt.MaxPollInterval); err != nil {
		return nil, err
	}
	if cfg.TokenCacheTTL, err = parseDuration("token_cache_ttl", raw.TokenCacheTTL, 0); err != nil {
		return nil, err
	}

	cfg.AccountSalt = big.NewInt(raw.AccountSalt)
	cfg.SerializePerAccount = raw.SerializePerAccount
	cfg.HttpBindAddress = raw.HttpBindAddress
	cfg.SentryDsn = raw.SentryDsn
	cfg.ServerName = raw.ServerName
	if raw.JwtSecret != "" {
		cfg.JwtSecret = []byte(raw.JwtSecret)
	}
	cfg.OwnerPrivateKey = raw.OwnerPrivateKey
	cfg.OwnerKeystorePath = raw.OwnerKeystorePath

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Contracts.AccountFactory == (common.Address{}) {
		return fmt.Errorf("invalid config: contracts.account_factory is required")
	}
	if c.Receipt.Timeout <= 0 {
		return fmt.Errorf("invalid config: receipt.timeout must be positive")
	}
	if c.Receipt.PollInterval <= 0 || c.Receipt.MaxPollInterval < c.Receipt.PollInterval {
		return fmt.Errorf("invalid config: receipt poll intervals must be positive and max_poll_interval >= poll_interval")
	}
	if c.BundlerURL == "" {
		return fmt.Errorf("invalid config: bundler_url is required")
	}
	if c.PaymasterURL == "" && c.Contracts.Paymaster == (common.Address{}) {
		return fmt.Errorf("invalid config: contracts.paymaster is required when paymaster_url is not set")
	}
	return nil
}

// SampleConfigRaw returns the raw form of DefaultConfig with placeholders
// for the deployment specific addresses, used by config-init.
func SampleConfigRaw() ConfigRaw {
	d := DefaultConfig()
	return ConfigRaw{
		Environment:  sdklogging.Production,
		Chain:        string(d.Chain.Name),
		RpcURL:       d.Chain.RpcURL,
		BundlerURL:   d.BundlerURL,
		PaymasterURL: d.PaymasterURL,
		Contracts: ContractsRaw{
			EntryPoint:     d.Contracts.EntryPoint.Hex(),
			AccountFactory: "0x0000000000000000000000000000000000000000",
			DexAggregator:  "0x0000000000000000000000000000000000000000",
			SocialContract: "0x0000000000000000000000000000000000000000",
		},
		Gas: GasRaw{
			CallGasLimit:         d.Gas.CallGasLimit.Uint64(),
			VerificationGasLimit: d.Gas.VerificationGasLimit.Uint64(),
			PreVerificationGas:   d.Gas.PreVerificationGas.Uint64(),
			MaxFeePerGas:         d.Gas.MaxFeePerGas.Uint64(),
			MaxPriorityFeePerGas: d.Gas.MaxPriorityFeePerGas.Uint64(),
			FeeMode:              d.Gas.FeeMode,
		},
		Receipt: ReceiptRaw{
			Timeout:         d.Receipt.Timeout.String(),
			PollInterval:    d.Receipt.PollInterval.String(),
			MaxPollInterval: d.Receipt.MaxPollInterval.String(),
		},
		TokenCacheTTL:   "5m0s",
		HttpBindAddress: "localhost:8080",
	}
}

// WriteSampleConfig writes SampleConfigRaw as yaml to path.
func WriteSampleConfig(path string) error {
	data, err := yaml.Marshal(SampleConfigRaw())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// OwnerSigner loads the owner key from the keystore when one is configured,
// falling back to the raw hex key.
func (c *Config) OwnerSigner() (*signer.KeySigner, error) {
	if c.OwnerKeystorePath != "" {
		password, ok := os.LookupEnv(KeystorePasswordEnv)
		if !ok {
			return nil, fmt.Errorf("%s is not set, cannot decrypt %s", KeystorePasswordEnv, c.OwnerKeystorePath)
		}
		return signer.FromKeystore(c.OwnerKeystorePath, password)
	}
	if c.OwnerPrivateKey != "" {
		return signer.FromPrivateKeyHex(c.OwnerPrivateKey)
	}
	return nil, fmt.Errorf("%w: neither owner_keystore_path nor owner_private_key is configured", signer.ErrUnavailable)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBig(dst **big.Int, v uint64) {
	if v > 0 {
		*dst = new(big.Int).SetUint64(v)
	}
}

func parseDuration(field, v string, fallback time.Duration) (time.Duration, error) {
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid config: %s: %w", field, err)
	}
	return d, nil
}
