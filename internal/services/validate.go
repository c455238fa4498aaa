package services

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/SigNoz/storefront-api/internal/models"
)

const (
	maxShippingAddressLen = 200
	maxPriceDecimals      = 2
	maxNameLen            = 255
)

func validateQuantity(field string, q int) error {
	if q < 0 {
		return &ValidationError{Field: field, Message: "must not be negative"}
	}
	return nil
}

func validateItems(items models.CartItems) error {
	for id, q := range items {
		if id.IsZero() {
			return &ValidationError{Field: "items", Message: "product id is required"}
		}
		if err := validateQuantity("items["+id.String()+"]", q); err != nil {
			return err
		}
	}
	return nil
}

func validateShippingAddress(addr string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(addr))
	if n == 0 {
		return &ValidationError{Field: "shipping_address", Message: "is required"}
	}
	if utf8.RuneCountInString(addr) > maxShippingAddressLen {
		return &ValidationError{Field: "shipping_address", Message: "must be at most 200 characters"}
	}
	return nil
}

func validatePrice(p decimal.Decimal) error {
	if !p.IsPositive() {
		return &ValidationError{Field: "price", Message: "must be greater than zero"}
	}
	if !p.Equal(p.Round(maxPriceDecimals)) {
		return &ValidationError{Field: "price", Message: "must have at most 2 decimal places"}
	}
	return nil
}

func validateStock(stock int) error {
	if stock < 0 {
		return &ValidationError{Field: "stock", Message: "must not be negative"}
	}
	return nil
}

func validateName(field, name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n == 0 {
		return &ValidationError{Field: field, Message: "is required"}
	}
	if n > maxNameLen {
		return &ValidationError{Field: field, Message: "is too long"}
	}
	return nil
}
