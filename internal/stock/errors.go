package stock

import pkgerrors "github.com/inventrack/inventrack-backend/pkg/errors"

// Sentinels match any *pkgerrors.Error carrying the same code under errors.Is.
var (
	ErrInvalidQuantity   = pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	ErrInsufficientStock = pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock")
	ErrNotFound          = pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
	ErrAlreadyExists     = pkgerrors.New(pkgerrors.CodeConflict, "stock record already exists")
	ErrInactive          = pkgerrors.New(pkgerrors.CodeStateConflict, "stock record is inactive")
	ErrConflict          = pkgerrors.New(pkgerrors.CodeStorageConflict, "stock record modified concurrently")
)

func invalidQuantity(qty int) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
		WithDetails(map[string]int{"quantity": qty})
}

func quantityOverflow(current, qty int) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "quantity exceeds maximum").
		WithDetails(map[string]int{"quantity": current, "requested": qty, "max": MaxQuantity})
}

func insufficient(requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]int{"requested": requested, "available": available})
}
