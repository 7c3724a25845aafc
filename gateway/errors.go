package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"

	"github.com/nerotrade/aaswap/pkg/erc4337/aaerr"
	"github.com/nerotrade/aaswap/pkg/erc4337/preset"
)

const (
	InternalError = "Internal Error"
)

// ErrorResp is the body of every non-2xx response.
type ErrorResp struct {
	Code    aaerr.Code             `json:"code"`
	Stage   aaerr.Stage            `json:"stage,omitempty"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	// Result is set when the operation got far enough to have a hash.
	Result *preset.Result `json:"result,omitempty"`
}

// statusFor maps a pipeline error code onto an HTTP status.
func statusFor(code aaerr.Code) int {
	switch code {
	case aaerr.AmountParseError, aaerr.AddressFormatError, aaerr.MissingToken, aaerr.InvalidOperation:
		return http.StatusBadRequest
	case aaerr.SigningRejected:
		return http.StatusForbidden
	case aaerr.BundlerRejected, aaerr.PaymasterRejected, aaerr.OperationReverted:
		return http.StatusUnprocessableEntity
	case aaerr.NetworkUnavailable:
		return http.StatusBadGateway
	case aaerr.IdentityUnavailable:
		return http.StatusServiceUnavailable
	case aaerr.Timeout:
		return http.StatusGatewayTimeout
	case aaerr.ReceiptNotFound:
		return http.StatusNotFound
	case aaerr.Cancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func errorResponse(c echo.Context, err error, result *preset.Result) error {
	var e *aaerr.Error
	if !errors.As(err, &e) {
		sentry.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, &ErrorResp{Message: InternalError})
	}

	resp := &ErrorResp{
		Code:    e.Code,
		Stage:   e.Stage,
		Field:   e.Field,
		Message: e.Error(),
		Details: e.Details,
	}
	if result != nil && result.UserOpHash != (common.Hash{}) {
		resp.Result = result
	}
	return c.JSON(statusFor(e.Code), resp)
}

// goSafe runs fn in a goroutine that reports a panic to Sentry before
// re-panicking.
func goSafe(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				sentry.CurrentHub().Recover(r)
				panic(r)
			}
		}()
		fn()
	}()
}

// sentryFlushSafely flushes Sentry with a timeout. It is a no-op when Sentry
// was never initialized.
func sentryFlushSafely(timeout time.Duration) {
	_ = sentry.Flush(timeout)
}
