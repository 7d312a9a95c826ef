package handler

import (
	"net/http"

	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/repository"
	"brenda-cereals/internal/service"

	"github.com/labstack/echo/v4"
)

type AdminHandler struct {
	adminService service.AdminService
}

func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
	}
}

func (h *AdminHandler) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()

	filter := repository.OrderFilter{
		Status: c.QueryParam("status"),
		Search: c.QueryParam("search"),
	}
	err := echo.QueryParamsBinder(c).
		Int("page", &filter.Page).
		Int("limit", &filter.Limit).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid pagination")
	}

	result, err := h.adminService.ListOrders(ctx, filter)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) UpdateOrders(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.AdminOrderActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.adminService.ApplyAction(ctx, &req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) Dashboard(c echo.Context) error {
	ctx := c.Request().Context()

	var days int
	if err := echo.QueryParamsBinder(c).Int("days", &days).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid days")
	}

	report, err := h.adminService.Dashboard(ctx, days)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, report)
}
