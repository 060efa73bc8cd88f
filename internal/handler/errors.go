package handler

import (
	"errors"
	"fmt"
	"net/http"

	"checkout-ledger/internal/dto"
	"checkout-ledger/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ErrorHandler maps service errors onto HTTP responses. Anything it does
// not recognise is logged and answered with a generic 500.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		log.Error().Err(err).Msg("write error response")
	}
}

func classify(err error) (int, dto.ErrorResponse) {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, dto.ErrorResponse{Error: fmt.Sprint(httpErr.Message)}
	}

	var limitErr *service.LimitExceededError
	if errors.As(err, &limitErr) {
		return http.StatusBadRequest, dto.ErrorResponse{
			Error:   limitErr.Error(),
			Limit:   limitErr.Limit,
			Current: limitErr.Current,
		}
	}

	switch {
	case errors.Is(err, service.ErrNotFoundOrForbidden),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, dto.ErrorResponse{Error: err.Error()}

	case errors.Is(err, service.ErrUnknownService),
		errors.Is(err, service.ErrInvalidServiceType),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrInvalidSubmission),
		errors.Is(err, service.ErrInvalidEvent),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrSignatureVerification):
		return http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()}

	case errors.Is(err, service.ErrOrderNotReviewable):
		return http.StatusConflict, dto.ErrorResponse{Error: err.Error()}

	case errors.Is(err, service.ErrOrderUnlinked),
		errors.Is(err, service.ErrNoBillingCustomer):
		return http.StatusUnprocessableEntity, dto.ErrorResponse{Error: err.Error()}
	}

	return http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"}
}
