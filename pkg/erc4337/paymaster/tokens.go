package paymaster

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/nerotrade/aaswap/pkg/erc4337/userop"
	"github.com/nerotrade/aaswap/pkg/logger"
)

// DefaultTokenDecimals is assumed when the paymaster omits decimals.
const DefaultTokenDecimals = 18

const (
	CatalogOutcomeOK    = "ok"
	CatalogOutcomeEmpty = "empty"
	CatalogOutcomeError = "error"
	CatalogOutcomeCache = "cache"
)

// Gas values of the probe operation sent with pm_supported_tokens. The
// paymaster prices tokens against them, so they match what wallets send.
var (
	probeCallGasLimit         = big.NewInt(0x88b8)
	probeVerificationGasLimit = big.NewInt(0x33450)
	probePreVerificationGas   = big.NewInt(0xc350)
	probeMaxFeePerGas         = big.NewInt(0x2162553062)
	probeMaxPriorityFeePerGas = big.NewInt(0x40dbcf36)
)

// TokenInfo is a token the paymaster accepts, with the cheapest strategy it
// supports for it.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int            `json:"decimals"`
	Kind     StrategyKind   `json:"type"`
}

// Strategy returns the payment strategy that pays gas with this token.
func (t TokenInfo) Strategy() Strategy {
	if t.Kind == Sponsored {
		return SponsoredStrategy()
	}
	return Strategy{Kind: t.Kind, Token: t.Address}
}

// TokenSource returns the raw pm_supported_tokens entries for a probe
// operation. *Client implements it.
type TokenSource interface {
	SupportedTokens(ctx context.Context, probe *userop.UserOperation) ([]map[string]interface{}, error)
}

// CatalogRecorder observes catalog lookups.
type CatalogRecorder interface {
	IncTokenCatalog(outcome string)
}

type rawToken struct {
	Address  string      `mapstructure:"address"`
	Symbol   string      `mapstructure:"symbol"`
	Decimals interface{} `mapstructure:"decimals"`
	Freepay  bool        `mapstructure:"freepay"`
	Prepay   bool        `mapstructure:"prepay"`
	Postpay  bool        `mapstructure:"postpay"`
}

// Catalog lists the tokens an account can pay gas with. Lookups never fail:
// any problem yields an empty list.
type Catalog struct {
	source   TokenSource
	cache    *bigcache.BigCache
	logger   sdklogging.Logger
	recorder CatalogRecorder
}

type CatalogOption func(*Catalog)

// WithRecorder reports lookup outcomes to r.
func WithRecorder(r CatalogRecorder) CatalogOption {
	return func(c *Catalog) { c.recorder = r }
}

// WithCache keeps non-empty results per account in cache.
func WithCache(cache *bigcache.BigCache) CatalogOption {
	return func(c *Catalog) { c.cache = cache }
}

func NewCatalog(source TokenSource, log sdklogging.Logger, opts ...CatalogOption) *Catalog {
	c := &Catalog{source: source, logger: logger.EnsureLogger(log)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSessionCache builds the cache used by WithCache. Entries live for ttl.
func NewSessionCache(ttl time.Duration) (*bigcache.BigCache, error) {
	config := bigcache.DefaultConfig(ttl)
	config.Shards = 16
	config.MaxEntriesInWindow = 1024
	config.MaxEntrySize = 2048
	config.CleanWindow = ttl
	config.Verbose = false
	return bigcache.New(context.Background(), config)
}

// ProbeOperation is the minimal unsigned operation the paymaster prices
// tokens against.
func ProbeOperation(sender common.Address) *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               sender,
		Nonce:                big.NewInt(0),
		InitCode:             []byte{},
		CallData:             []byte{},
		CallGasLimit:         new(big.Int).Set(probeCallGasLimit),
		VerificationGasLimit: new(big.Int).Set(probeVerificationGasLimit),
		PreVerificationGas:   new(big.Int).Set(probePreVerificationGas),
		MaxFeePerGas:         new(big.Int).Set(probeMaxFeePerGas),
		MaxPriorityFeePerGas: new(big.Int).Set(probeMaxPriorityFeePerGas),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

// ListSupportedTokens returns the tokens account can pay gas with.
func (c *Catalog) ListSupportedTokens(ctx context.Context, account common.Address) []TokenInfo {
	key := strings.ToLower(account.Hex())
	if tokens, ok := c.cached(key); ok {
		c.record(CatalogOutcomeCache)
		return tokens
	}

	raw, err := c.source.SupportedTokens(ctx, ProbeOperation(account))
	if err != nil {
		c.logger.Warn("cannot fetch paymaster supported tokens", "account", account.Hex(), "error", err)
		c.record(CatalogOutcomeError)
		return []TokenInfo{}
	}

	tokens := c.normalize(raw)
	if len(tokens) == 0 {
		c.record(CatalogOutcomeEmpty)
		return tokens
	}

	c.store(key, tokens)
	c.record(CatalogOutcomeOK)
	return tokens
}

func (c *Catalog) normalize(raw []map[string]interface{}) []TokenInfo {
	tokens := make([]TokenInfo, 0, len(raw))
	for _, entry := range raw {
		token, err := NormalizeToken(entry)
		if err != nil {
			c.logger.Debug("skipping paymaster token", "entry", entry, "error", err)
			continue
		}
		tokens = append(tokens, token)
	}
	return lo.UniqBy(tokens, func(t TokenInfo) common.Address { return t.Address })
}

// NormalizeToken turns one pm_supported_tokens entry into a TokenInfo.
// Fields are decoded weakly: decimals may be a number or a numeric string
// and flags may be booleans or "true"/"false".
func NormalizeToken(entry map[string]interface{}) (TokenInfo, error) {
	var raw rawToken
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return TokenInfo{}, err
	}
	if err := decoder.Decode(entry); err != nil {
		return TokenInfo{}, err
	}

	if !common.IsHexAddress(raw.Address) || !strings.HasPrefix(strings.ToLower(raw.Address), "0x") {
		return TokenInfo{}, errors.New("malformed token address")
	}

	decimals, err := normalizeDecimals(raw.Decimals)
	if err != nil {
		return TokenInfo{}, err
	}

	// free beats prepay beats postpay. A token with no flag at all is still
	// offered as postpay.
	kind := Postpay
	switch {
	case raw.Freepay:
		kind = Sponsored
	case raw.Prepay:
		kind = Prepay
	}

	return TokenInfo{
		Address:  common.HexToAddress(raw.Address),
		Symbol:   raw.Symbol,
		Decimals: decimals,
		Kind:     kind,
	}, nil
}

func normalizeDecimals(v interface{}) (int, error) {
	switch d := v.(type) {
	case nil:
		return DefaultTokenDecimals, nil
	case string:
		if strings.TrimSpace(d) == "" {
			return DefaultTokenDecimals, nil
		}
	}

	var decimals int
	if err := mapstructure.WeakDecode(v, &decimals); err != nil {
		return 0, err
	}
	if decimals <= 0 || decimals > 255 {
		return DefaultTokenDecimals, nil
	}
	return decimals, nil
}

func (c *Catalog) cached(key string) ([]TokenInfo, bool) {
	if c.cache == nil {
		return nil, false
	}
	data, err := c.cache.Get(key)
	if err != nil {
		return nil, false
	}
	var tokens []TokenInfo
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, false
	}
	return tokens, true
}

func (c *Catalog) store(key string, tokens []TokenInfo) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return
	}
	if err := c.cache.Set(key, data); err != nil {
		c.logger.Debug("cannot cache supported tokens", "key", key, "error", err)
	}
}

func (c *Catalog) record(outcome string) {
	if c.recorder != nil {
		c.recorder.IncTokenCatalog(outcome)
	}
}
