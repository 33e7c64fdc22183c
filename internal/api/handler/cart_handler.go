package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/localmart/marketplace-client/internal/core/ports"
)

// CartHandler exposes the cart store. The cart is device-local and does not
// require a signed-in session.
type CartHandler struct {
	cart ports.CartService
}

func NewCartHandler(cart ports.CartService) *CartHandler {
	return &CartHandler{cart: cart}
}

// Get handles GET /cart.
//
// @Summary      Current cart
// @Tags         cart
// @Produce      json
// @Success      200  {object}  cartResponse
// @Router       /cart [get]
func (h *CartHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, toCartResponse(h.cart.Cart()))
}

// AddItem handles POST /cart/items. An item from another merchant replaces
// the cart; an identical item and customization merges into its line.
//
// @Summary      Add an item
// @Tags         cart
// @Accept       json
// @Produce      json
// @Param        body  body      addItemRequest  true  "Item"
// @Success      200   {object}  cartResponse
// @Failure      400   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /cart/items [post]
func (h *CartHandler) AddItem(c echo.Context) error {
	var req addItemRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	cart, err := h.cart.AddItem(c.Request().Context(), toAddItemInput(req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(cart))
}

// UpdateQuantity handles PATCH /cart/items/:lineId. Quantity zero removes
// the line.
//
// @Summary      Change a line quantity
// @Tags         cart
// @Accept       json
// @Produce      json
// @Param        lineId  path      string                 true  "Line id"
// @Param        body    body      updateQuantityRequest  true  "Quantity"
// @Success      200     {object}  cartResponse
// @Failure      400     {object}  errorResponse
// @Router       /cart/items/{lineId} [patch]
func (h *CartHandler) UpdateQuantity(c echo.Context) error {
	var req updateQuantityRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	cart, err := h.cart.UpdateQuantity(c.Request().Context(), c.Param("lineId"), *req.Quantity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(cart))
}

// UpdateCustomizations handles PUT /cart/items/:lineId/customizations.
//
// @Summary      Replace a line's customizations
// @Tags         cart
// @Accept       json
// @Produce      json
// @Param        lineId  path      string                       true  "Line id"
// @Param        body    body      updateCustomizationsRequest  true  "Customizations"
// @Success      200     {object}  cartResponse
// @Failure      400     {object}  errorResponse
// @Router       /cart/items/{lineId}/customizations [put]
func (h *CartHandler) UpdateCustomizations(c echo.Context) error {
	var req updateCustomizationsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	cart, err := h.cart.UpdateCustomizations(c.Request().Context(), c.Param("lineId"), toCustomizations(req.Customizations))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(cart))
}

// RemoveItem handles DELETE /cart/items/:lineId.
//
// @Summary      Remove a line
// @Tags         cart
// @Produce      json
// @Param        lineId  path      string  true  "Line id"
// @Success      200     {object}  cartResponse
// @Router       /cart/items/{lineId} [delete]
func (h *CartHandler) RemoveItem(c echo.Context) error {
	cart, err := h.cart.RemoveItem(c.Request().Context(), c.Param("lineId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(cart))
}

// Clear handles DELETE /cart.
//
// @Summary      Empty the cart
// @Tags         cart
// @Success      204
// @Router       /cart [delete]
func (h *CartHandler) Clear(c echo.Context) error {
	if err := h.cart.Clear(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ApplyPromotion handles POST /cart/promotion.
//
// @Summary      Apply a promotion code
// @Tags         cart
// @Accept       json
// @Produce      json
// @Param        body  body      applyPromotionRequest  true  "Promotion code"
// @Success      200   {object}  cartResponse
// @Failure      400   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /cart/promotion [post]
func (h *CartHandler) ApplyPromotion(c echo.Context) error {
	var req applyPromotionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	cart, err := h.cart.ApplyPromotion(c.Request().Context(), req.Code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(cart))
}

// RemovePromotion handles DELETE /cart/promotion.
//
// @Summary      Remove the promotion
// @Tags         cart
// @Produce      json
// @Success      200  {object}  cartResponse
// @Router       /cart/promotion [delete]
func (h *CartHandler) RemovePromotion(c echo.Context) error {
	cart, err := h.cart.RemovePromotion(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toCartResponse(cart))
}
