package handler

import (
	"net/http"
	"strconv"

	"checkout-ledger/internal/credential"
	"checkout-ledger/internal/dto"
	"checkout-ledger/internal/middleware"
	"checkout-ledger/internal/service"

	"github.com/labstack/echo/v4"
)

type SubmissionHandler struct {
	ledger *service.SubscriptionLedger
	panel  *service.ServicePanel
}

func NewSubmissionHandler(ledger *service.SubscriptionLedger, panel *service.ServicePanel) *SubmissionHandler {
	return &SubmissionHandler{
		ledger: ledger,
		panel:  panel,
	}
}

func idParam(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return uint(id), nil
}

func bareSecret(creds *dto.Credentials) *credential.BareSecret {
	if creds == nil {
		return nil
	}
	return &credential.BareSecret{
		Username: creds.Username,
		Password: creds.Password,
		IMAP:     creds.IMAP,
	}
}

func (h *SubmissionHandler) ListSubmissions(c echo.Context) error {
	ctx := c.Request().Context()

	views, err := h.ledger.ListByUserDecrypted(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.NewSubmissions(views, false))
}

func (h *SubmissionHandler) CreateSubmission(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.SubmissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	sub, err := h.ledger.Submit(ctx, middleware.UserID(c), service.SubmissionInput{
		ServiceName: req.ServiceName,
		ServiceType: req.ServiceType,
		Notes:       req.Notes,
		Fields:      credential.FieldBundle(req.Fields),
		Credentials: bareSecret(req.Credentials),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, dto.NewSubscription(sub))
}

func (h *SubmissionHandler) UpdateSubmission(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req dto.UpdateSubmissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	sub, err := h.ledger.UpdateSubscription(ctx, id, middleware.UserID(c), service.SubscriptionUpdate{
		Notes:       req.Notes,
		Status:      req.Status,
		Fields:      credential.FieldBundle(req.Fields),
		Credentials: bareSecret(req.Credentials),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.NewSubscription(sub))
}

func (h *SubmissionHandler) DeleteSubmission(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.ledger.DeleteSubscription(ctx, id, middleware.UserID(c)); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *SubmissionHandler) ToggleBot(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req dto.ToggleBotRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
		}
	}

	sub, err := h.ledger.ToggleAddedToBot(ctx, id, middleware.UserID(c), req.AddedToBot)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.NewSubscription(sub))
}

func (h *SubmissionHandler) ListServices(c echo.Context) error {
	return c.JSON(http.StatusOK, h.panel.List())
}
