package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Domain-specific errors for storage operations.
var (
	// ErrInvalidNamespace is returned for an empty or malformed namespace.
	ErrInvalidNamespace = errors.New("storage: invalid namespace")

	// ErrInvalidKey is returned for an empty key.
	ErrInvalidKey = errors.New("storage: invalid key")
)

func validate(namespace, key string) error {
	if namespace == "" || strings.Contains(namespace, keySep) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, namespace)
	}
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
