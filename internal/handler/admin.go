package handler

import (
	"net/http"
	"strconv"

	"checkout-ledger/internal/dto"
	"checkout-ledger/internal/repository"
	"checkout-ledger/internal/service"

	"github.com/labstack/echo/v4"
)

type AdminHandler struct {
	reconciler *service.Reconciler
	ledger     *service.SubscriptionLedger
	panel      *service.ServicePanel
	users      service.UserService
}

func NewAdminHandler(
	reconciler *service.Reconciler,
	ledger *service.SubscriptionLedger,
	panel *service.ServicePanel,
	users service.UserService,
) *AdminHandler {
	return &AdminHandler{
		reconciler: reconciler,
		ledger:     ledger,
		panel:      panel,
		users:      users,
	}
}

func (h *AdminHandler) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()

	filter := repository.OrderFilter{
		Status:   c.QueryParam("status"),
		Retailer: c.QueryParam("retailer"),
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = n
	}

	orders, err := h.reconciler.ListOrders(ctx, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.NewOrders(orders))
}

func (h *AdminHandler) ApproveOrder(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req dto.ApproveOrderRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
		}
	}

	order, err := h.reconciler.ApproveOrder(ctx, id, req.AdjustedTotal)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.NewOrder(order))
}

func (h *AdminHandler) LinkOrder(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	var req dto.LinkOrderRequest
	if err := c.Bind(&req); err != nil || req.SubmissionID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "submission_id is required")
	}

	order, err := h.reconciler.LinkOrder(ctx, id, req.SubmissionID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.NewOrder(order))
}

func (h *AdminHandler) ListServiceSubmissions(c echo.Context) error {
	ctx := c.Request().Context()

	views, err := h.ledger.ListByServiceMasked(ctx, c.Param("name"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.NewSubmissions(views, true))
}

func (h *AdminHandler) UpsertService(c echo.Context) error {
	ctx := c.Request().Context()

	var def service.ServiceDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	if err := h.panel.Upsert(ctx, def); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, h.panel.List())
}

func (h *AdminHandler) DeleteUser(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := idParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.users.DeleteUser(ctx, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
