package handler

import (
	"fmt"
	"io"
	"net/http"

	"checkout-ledger/internal/dto"
	"checkout-ledger/internal/model"
	"checkout-ledger/internal/service"

	"github.com/labstack/echo/v4"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	reconciler *service.Reconciler
	billing    *service.BillingWebhooks
}

func NewWebhookHandler(reconciler *service.Reconciler, billing *service.BillingWebhooks) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		billing:    billing,
	}
}

// CheckoutWebhook ingests a checkout bot's success event.
func (h *WebhookHandler) CheckoutWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	var event model.CheckoutEvent
	if err := c.Bind(&event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.reconciler.IngestCheckoutEvent(ctx, event)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.CheckoutWebhookResponse{
		Success:      true,
		OrderID:      result.OrderID,
		Status:       result.Status,
		MatchedUser:  result.MatchedUser,
		SubmissionID: result.SubmissionID,
	})
}

// StripeWebhook needs the raw body: the signature covers the exact bytes.
func (h *WebhookHandler) StripeWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err = h.billing.Handle(ctx, body, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		return fmt.Errorf("handle webhook: %w", err)
	}

	return c.NoContent(http.StatusOK)
}
