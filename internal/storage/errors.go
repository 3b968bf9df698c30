package storage

import (
	"fmt"

	"github.com/zFlqwovo/CloudPaste-sub005/internal/apperr"
)

// ErrNotImplemented builds the typed not_implemented error returned
// when a caller requests an operation the driver's declared
// capability set does not cover, spec §4.C.
func ErrNotImplemented(kind, operation string) error {
	return apperr.NotImplemented("DRIVER.NOT_IMPLEMENTED", fmt.Sprintf("%s driver does not support %s", kind, operation))
}

// ErrNotFound builds a typed not-found error for a missing path.
func ErrNotFound(path string) error {
	return apperr.NotFound("DRIVER.NOT_FOUND", fmt.Sprintf("no such path: %s", path))
}
