package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
)

// statusForKind maps an error kind to an HTTP status.
func statusForKind(k llmerr.Kind) int {
	switch k {
	case llmerr.KindInvalidRequest, llmerr.KindProviderUnknown:
		return http.StatusBadRequest
	case llmerr.KindSessionNotFound:
		return http.StatusNotFound
	case llmerr.KindSessionClosed, llmerr.KindSessionExpired:
		return http.StatusGone
	case llmerr.KindRateLimited:
		return http.StatusTooManyRequests
	case llmerr.KindTimeout:
		return http.StatusGatewayTimeout
	case llmerr.KindCanceled:
		return http.StatusRequestTimeout
	case llmerr.KindTruncated, llmerr.KindIncomplete, llmerr.KindStructural,
		llmerr.KindTruncationExceeded, llmerr.KindTruncatedEnhancement:
		return http.StatusUnprocessableEntity
	case llmerr.KindAuth, llmerr.KindServer, llmerr.KindNetwork,
		llmerr.KindMaxRetriesExceeded, llmerr.KindAllProvidersFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// kindForStatus classifies echo's own errors (bad routes, body limits).
func kindForStatus(status int) llmerr.Kind {
	if status < http.StatusInternalServerError {
		return llmerr.KindInvalidRequest
	}
	return llmerr.KindServer
}

// errorHandler renders every handler error as an ErrorResponse.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status int
			detail ErrorDetail
			he     *echo.HTTPError
			le     *llmerr.Error
		)
		switch {
		case errors.As(err, &le):
			status = statusForKind(le.Kind)
			detail = errorDetail(le)
		case errors.As(err, &he):
			status = he.Code
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			detail = ErrorDetail{Kind: kindForStatus(he.Code), Message: msg}
		default:
			status = http.StatusInternalServerError
			detail = ErrorDetail{Kind: llmerr.KindServer, Message: "internal error"}
			logger.Error("unhandled error", zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, ErrorResponse{Error: detail})
		}
		if err != nil {
			logger.Warn("failed to write error response", zap.Error(err))
		}
	}
}

func invalidRequest(format string, args ...any) *llmerr.Error {
	return llmerr.New(llmerr.KindInvalidRequest, format, args...)
}
