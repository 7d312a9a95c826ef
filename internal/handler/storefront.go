package handler

import (
	"net/http"
	"strconv"

	"brenda-cereals/internal/cart"
	"brenda-cereals/internal/delivery"
	"brenda-cereals/internal/dto"

	"github.com/labstack/echo/v4"
)

// StorefrontHandler serves the stateless helpers the checkout page calls: delivery pricing and
// the cart reducer.
type StorefrontHandler struct {
	zones *delivery.Zones
}

func NewStorefrontHandler(zones *delivery.Zones) *StorefrontHandler {
	return &StorefrontHandler{
		zones: zones,
	}
}

func (h *StorefrontHandler) Zones(c echo.Context) error {
	return c.JSON(http.StatusOK, h.zones.All())
}

// Quote prices delivery by zone name (?location=) or by coordinates (?lat=&lng=).
func (h *StorefrontHandler) Quote(c echo.Context) error {
	if lat, lng := c.QueryParam("lat"), c.QueryParam("lng"); lat != "" || lng != "" {
		latF, err1 := strconv.ParseFloat(lat, 64)
		lngF, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil || latF < -90 || latF > 90 || lngF < -180 || lngF > 180 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid coordinates")
		}
		return c.JSON(http.StatusOK, h.zones.QuoteByCoordinates(latF, lngF))
	}

	return c.JSON(http.StatusOK, h.zones.QuoteByName(c.QueryParam("location")))
}

func (h *StorefrontHandler) Cart(c echo.Context) error {
	var req dto.CartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if !req.Action.Type.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown cart action")
	}

	state := cart.Reduce(cart.State{}, cart.Action{Type: cart.ActionLoadCart, Items: req.Items})
	return c.JSON(http.StatusOK, cart.Reduce(state, req.Action))
}
