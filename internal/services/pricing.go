package services

import (
	"github.com/shopspring/decimal"

	"github.com/SigNoz/storefront-api/internal/models"
)

// PriceCart joins the cart's items against current catalog records.
// Items whose product is missing from products are left out of the view.
func PriceCart(cart models.Cart, products map[models.ProductID]models.Product) *models.CartView {
	view := &models.CartView{
		ID:        cart.ID,
		UserID:    cart.UserID,
		IsActive:  cart.IsActive,
		Items:     make([]models.CartLine, 0, len(cart.Items)),
		UpdatedAt: cart.UpdatedAt,
	}

	subtotal := decimal.Zero
	for _, id := range cart.Items.ProductIDs() {
		p, ok := products[id]
		if !ok {
			continue
		}
		qty := cart.Items[id]
		lineTotal := p.Price.Mul(decimal.NewFromInt(int64(qty)))

		view.Items = append(view.Items, models.CartLine{
			ProductID: id,
			Name:      p.Name,
			Quantity:  qty,
			UnitPrice: models.NewMoney(p.Price),
			LineTotal: models.NewMoney(lineTotal),
			Stock:     p.Stock,
		})
		subtotal = subtotal.Add(lineTotal)
		view.ItemCount += qty
	}

	view.Subtotal = models.NewMoney(subtotal)
	// no tax or discount layer
	view.GrandTotal = view.Subtotal
	return view
}
