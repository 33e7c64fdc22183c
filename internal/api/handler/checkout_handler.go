package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/localmart/marketplace-client/internal/core/ports"
)

type CheckoutHandler struct {
	checkout ports.CheckoutService
}

func NewCheckoutHandler(checkout ports.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

type placeOrderRequest struct {
	DeliveryAddress string `json:"delivery_address" validate:"required,max=300"`
	PaymentMethod   string `json:"payment_method"   validate:"required,oneof=card upi cash"`
	Notes           string `json:"notes"            validate:"max=500"`
}

// PlaceOrder submits the cart as an order and clears it on success.
//
// @Summary      Place an order
// @Tags         checkout
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      placeOrderRequest  true  "Delivery and payment details"
// @Success      201   {object}  domain.Order
// @Failure      400   {object}  errorResponse
// @Failure      401   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Failure      500   {object}  errorResponse
// @Router       /checkout [post]
func (h *CheckoutHandler) PlaceOrder(c echo.Context) error {
	if _, _, _, err := ctxUser(c); err != nil {
		return err
	}

	var req placeOrderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	order, err := h.checkout.PlaceOrder(c.Request().Context(), ports.PlaceOrderInput{
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, order)
}
