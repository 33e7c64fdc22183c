package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

type PayoutHandler struct {
	payouts ports.PayoutService
}

func NewPayoutHandler(payouts ports.PayoutService) *PayoutHandler {
	return &PayoutHandler{payouts: payouts}
}

type payoutRequest struct {
	BusinessID    string `json:"business_id"`
	Amount        int64  `json:"amount"          validate:"gt=0"`
	BankAccountID string `json:"bank_account_id" validate:"required"`
}

type payoutResponse struct {
	Status     string `json:"status"`
	BusinessID string `json:"business_id"`
	Amount     int64  `json:"amount"`
}

// Request starts a payout in the background. The response only confirms the
// request was accepted.
//
// @Summary      Request a payout
// @Tags         payouts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      payoutRequest  true  "Payout details; business_id defaults to the caller's business"
// @Success      202   {object}  payoutResponse
// @Failure      400   {object}  errorResponse
// @Failure      403   {object}  errorResponse
// @Router       /payouts [post]
func (h *PayoutHandler) Request(c echo.Context) error {
	_, _, businessID, err := ctxUser(c)
	if err != nil {
		return err
	}

	var req payoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.BusinessID == "" {
		req.BusinessID = businessID
	}

	err = h.payouts.RequestPayout(c.Request().Context(), ports.PayoutInput{
		BusinessID:    req.BusinessID,
		Amount:        domain.Money(req.Amount),
		BankAccountID: req.BankAccountID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, payoutResponse{
		Status:     "accepted",
		BusinessID: req.BusinessID,
		Amount:     req.Amount,
	})
}
