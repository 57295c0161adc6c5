package tokens

import pkgerrors "github.com/inventrack/inventrack-backend/pkg/errors"

var (
	ErrTokenInvalid       = pkgerrors.New(pkgerrors.CodeTokenInvalid, "refresh token is invalid")
	ErrTokenReuseDetected = pkgerrors.New(pkgerrors.CodeTokenReuseDetected, "refresh token reuse detected")
	ErrNotFound           = pkgerrors.New(pkgerrors.CodeNotFound, "refresh token not found")
	ErrAlreadyExists      = pkgerrors.New(pkgerrors.CodeConflict, "refresh token already exists")
	ErrConflict           = pkgerrors.New(pkgerrors.CodeStorageConflict, "refresh token modified concurrently")
)

func tokenInvalid(status Status) error {
	return pkgerrors.New(pkgerrors.CodeTokenInvalid, "refresh token is invalid").
		WithDetails(map[string]string{"status": string(status)})
}
