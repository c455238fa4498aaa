package services

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/SigNoz/storefront-api/internal/models"
)

// Error kinds. Handlers map them to status codes with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
)

// NotFoundError names the missing entity
type NotFoundError struct {
	Entity string
	ID     string
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InsufficientStockError names the product whose stock cannot cover a quantity
type InsufficientStockError struct {
	ProductID   models.ProductID
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID.String()
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string        { return e.Reason }
func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// ValidationError rejects malformed input before any state is touched
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string        { return e.Field + ": " + e.Message }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string        { return e.Reason }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func cartNotActive(cartID int64) error {
	return &NotFoundError{Entity: "cart", ID: strconv.FormatInt(cartID, 10), Reason: "cart is not active"}
}

func productNotFound(id models.ProductID) error {
	return &NotFoundError{Entity: "product", ID: id.String()}
}
