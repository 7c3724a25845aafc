// Package gateway exposes the pipeline entry points over HTTP for UIs that
// cannot link the Go package directly.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"

	"github.com/nerotrade/aaswap/core/auth"
	"github.com/nerotrade/aaswap/core/config"
	"github.com/nerotrade/aaswap/core/pipeline"
	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/bundler"
	"github.com/nerotrade/aaswap/pkg/erc4337/calldata"
	"github.com/nerotrade/aaswap/pkg/erc4337/paymaster"
	"github.com/nerotrade/aaswap/pkg/erc4337/preset"
	"github.com/nerotrade/aaswap/pkg/logger"
	"github.com/nerotrade/aaswap/version"
)

// Service is the pipeline surface served over HTTP. *pipeline.Pipeline
// implements it.
type Service interface {
	AccountAddress(ctx context.Context) (common.Address, error)
	ListSupportedTokens(ctx context.Context) ([]paymaster.TokenInfo, error)
	BuildAndSubmitSwap(ctx context.Context, req calldata.SwapRequest, strategy paymaster.Strategy) (*preset.Result, error)
	BuildAndSubmitTradeShare(ctx context.Context, share calldata.TradeShare) (*preset.Result, error)
	WaitForOperation(ctx context.Context, userOpHash common.Hash) (*bundler.UserOperationReceipt, error)
	QuoteSwap(ctx context.Context, tokenIn, tokenOut, amountIn string) (*pipeline.Quote, error)
	ListTrades(ctx context.Context, trader string) ([]calldata.Share, error)
}

type HttpJsonResp[T any] struct {
	Data T `json:"data"`
}

type AccountResp struct {
	Address common.Address `json:"address"`
}

type QuoteResp struct {
	Dex       common.Address `json:"dex"`
	AmountIn  string         `json:"amountIn"`
	AmountOut string         `json:"amountOut"`
}

// TradeResp is a shared trade with amounts in decimal form.
type TradeResp struct {
	Trader    common.Address `json:"trader"`
	Strategy  string         `json:"strategy"`
	AmountIn  string         `json:"amountIn"`
	AmountOut string         `json:"amountOut"`
	TokenIn   common.Address `json:"tokenIn"`
	TokenOut  common.Address `json:"tokenOut"`
}

// SwapBody is a swap request plus the gas payment selection. PaymentType is
// "sponsored", "prepay" or "postpay" (or the numeric tag).
type SwapBody struct {
	calldata.SwapRequest
	PaymentType string `json:"paymentType"`
	Token       string `json:"token,omitempty"`
}

type requestValidator struct {
	validator *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

type Server struct {
	service  Service
	config   *config.Config
	logger   sdklogging.Logger
	gatherer prometheus.Gatherer
	echo     *echo.Echo
}

// NewServer builds the router. gatherer backs /metrics; nil disables it.
func NewServer(cfg *config.Config, service Service, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		service:  service,
		config:   cfg,
		logger:   logger.EnsureLogger(cfg.Logger),
		gatherer: gatherer,
	}
	s.initSentry()
	s.echo = s.routes()
	return s
}

func (s *Server) initSentry() {
	if s.config.SentryDsn == "" {
		return
	}

	env := "production"
	if s.config.Environment == sdklogging.Development {
		env = "development"
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              s.config.SentryDsn,
		ServerName:       s.config.ServerName,
		Environment:      env,
		Release:          fmt.Sprintf("%s@%s", version.Get(), version.GetRevision()),
		AttachStacktrace: true,
		TracesSampleRate: 1.0,
	}); err != nil {
		s.logger.Errorf("Sentry initialization failed: %v", err)
	}
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validator: validator.New()}

	e.Use(middleware.Logger())
	// Register Sentry before Recover so panics are reported
	if s.config.SentryDsn != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic:         true,
			WaitForDelivery: false,
		}))
	}
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))

	e.GET("/up", func(c echo.Context) error {
		return c.String(http.StatusOK, "up")
	})

	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, &HttpJsonResp[map[string]string]{
			Data: map[string]string{"version": version.Get(), "revision": version.GetRevision()},
		})
	})

	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	read := s.requireRole(auth.ReadonlyRole)
	e.GET("/account", s.getAccount, read)
	e.GET("/tokens", s.getTokens, read)
	e.GET("/quote", s.getQuote, read)
	e.GET("/trades", s.getTrades, read)
	e.GET("/operations/:hash", s.getOperation, read)

	submit := s.requireRole(auth.SubmitRole)
	e.POST("/swap", s.postSwap, submit)
	e.POST("/share", s.postShare, submit)

	return e
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on the configured bind address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.HttpBindAddress
	if addr == "" {
		return errors.New("http_bind_address is not configured")
	}

	errCh := make(chan error, 1)
	s.logger.Info("HTTP server listening", "address", addr)
	goSafe(func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	err := s.echo.Shutdown(shutdownCtx)
	sentryFlushSafely(2 * time.Second)
	return err
}

func (s *Server) getAccount(c echo.Context) error {
	address, err := s.service.AccountAddress(c.Request().Context())
	if err != nil {
		return errorResponse(c, err, nil)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[AccountResp]{Data: AccountResp{Address: address}})
}

func (s *Server) getTokens(c echo.Context) error {
	tokens, err := s.service.ListSupportedTokens(c.Request().Context())
	if err != nil {
		return errorResponse(c, err, nil)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[[]paymaster.TokenInfo]{Data: tokens})
}

func (s *Server) getQuote(c echo.Context) error {
	quote, err := s.service.QuoteSwap(c.Request().Context(),
		c.QueryParam("tokenIn"), c.QueryParam("tokenOut"), c.QueryParam("amountIn"))
	if err != nil {
		return errorResponse(c, err, nil)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[QuoteResp]{Data: QuoteResp{
		Dex:       quote.Dex,
		AmountIn:  calldata.FormatAmount(quote.AmountIn),
		AmountOut: calldata.FormatAmount(quote.AmountOut),
	}})
}

func (s *Server) getTrades(c echo.Context) error {
	trades, err := s.service.ListTrades(c.Request().Context(), c.QueryParam("trader"))
	if err != nil {
		return errorResponse(c, err, nil)
	}

	resp := make([]TradeResp, 0, len(trades))
	for _, t := range trades {
		resp = append(resp, TradeResp{
			Trader:    t.Trader,
			Strategy:  t.Strategy,
			AmountIn:  calldata.FormatAmount(t.AmountIn),
			AmountOut: calldata.FormatAmount(t.AmountOut),
			TokenIn:   t.TokenIn,
			TokenOut:  t.TokenOut,
		})
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[[]TradeResp]{Data: resp})
}

func (s *Server) postSwap(c echo.Context) error {
	var body SwapBody
	if resp := bindRequest(c, &body); resp != nil {
		return c.JSON(http.StatusBadRequest, resp)
	}

	strategy, err := paymaster.ParseStrategy(body.PaymentType, body.Token)
	if err != nil {
		return errorResponse(c, err, nil)
	}

	result, err := s.service.BuildAndSubmitSwap(c.Request().Context(), body.SwapRequest, strategy)
	if err != nil {
		return errorResponse(c, err, result)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*preset.Result]{Data: result})
}

func (s *Server) postShare(c echo.Context) error {
	var body calldata.TradeShare
	if resp := bindRequest(c, &body); resp != nil {
		return c.JSON(http.StatusBadRequest, resp)
	}

	result, err := s.service.BuildAndSubmitTradeShare(c.Request().Context(), body)
	if err != nil {
		return errorResponse(c, err, result)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*preset.Result]{Data: result})
}

func (s *Server) getOperation(c echo.Context) error {
	raw, err := hexutil.Decode(c.Param("hash"))
	if err != nil || len(raw) != common.HashLength {
		return errorResponse(c, aaerr.ForField(aaerr.InvalidOperation, "hash", "expected a 0x-prefixed 32 byte user operation hash"), nil)
	}

	receipt, err := s.service.WaitForOperation(c.Request().Context(), common.BytesToHash(raw))
	if err != nil {
		return errorResponse(c, err, nil)
	}
	return c.JSON(http.StatusOK, &HttpJsonResp[*bundler.UserOperationReceipt]{Data: receipt})
}

// bindRequest decodes and validates the request body into dst. A non-nil
// result is the 400 body to send.
func bindRequest(c echo.Context, dst interface{}) *ErrorResp {
	if err := c.Bind(dst); err != nil {
		return &ErrorResp{Code: aaerr.InvalidOperation, Message: "malformed JSON body"}
	}
	if err := c.Validate(dst); err != nil {
		resp := &ErrorResp{Code: aaerr.InvalidOperation, Message: err.Error()}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			resp.Field = verrs[0].Field()
		}
		return resp
	}
	return nil
}
