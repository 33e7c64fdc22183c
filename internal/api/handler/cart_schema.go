package handler

import (
	"github.com/localmart/marketplace-client/internal/core/domain"
	"github.com/localmart/marketplace-client/internal/core/ports"
)

type customizationRequest struct {
	Key   string `json:"key"   validate:"required"`
	Value string `json:"value" validate:"required"`
}

type addItemRequest struct {
	ItemRef             string                 `json:"item_ref"             validate:"required"`
	MerchantID          string                 `json:"merchant_id"          validate:"required"`
	Name                string                 `json:"name"                 validate:"max=200"`
	UnitPrice           int64                  `json:"unit_price"           validate:"gte=0"`
	Quantity            int                    `json:"quantity"             validate:"gte=0"`
	Customizations      []customizationRequest `json:"customizations"       validate:"dive"`
	SpecialInstructions string                 `json:"special_instructions" validate:"max=500"`
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,gte=0"`
}

type updateCustomizationsRequest struct {
	Customizations []customizationRequest `json:"customizations" validate:"dive"`
}

type applyPromotionRequest struct {
	Code string `json:"code" validate:"required,max=40"`
}

type cartResponse struct {
	MerchantID string            `json:"merchant_id,omitempty"`
	Items      []domain.LineItem `json:"items"`
	Promotion  *domain.Promotion `json:"promotion,omitempty"`
	Totals     domain.Totals     `json:"totals"`
	ItemCount  int               `json:"item_count"`
}

func toCustomizations(in []customizationRequest) domain.Customizations {
	if len(in) == 0 {
		return nil
	}
	out := make(domain.Customizations, 0, len(in))
	for _, c := range in {
		out = append(out, domain.Customization{Key: c.Key, Value: c.Value})
	}
	return out
}

func toAddItemInput(req addItemRequest) ports.AddItemInput {
	return ports.AddItemInput{
		ItemRef:             req.ItemRef,
		MerchantID:          req.MerchantID,
		Name:                req.Name,
		UnitPrice:           domain.Money(req.UnitPrice),
		Quantity:            req.Quantity,
		Customizations:      toCustomizations(req.Customizations),
		SpecialInstructions: req.SpecialInstructions,
	}
}

func toCartResponse(c domain.Cart) cartResponse {
	items := c.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	return cartResponse{
		MerchantID: c.MerchantID,
		Items:      items,
		Promotion:  c.Promotion,
		Totals:     c.Totals,
		ItemCount:  c.ItemCount(),
	}
}
