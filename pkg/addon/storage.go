package addon

import "context"

// Storage is the persistence capability shared by every add-on.
//
// The host opens it once at process start and passes the same handle to each
// factory; add-ons borrow it and never close it. Implementations are safe for
// concurrent use and each call is an independent atomic unit. Add-ons keep
// their data apart by namespace, conventionally their own name.
type Storage interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Put creates or replaces the value stored under key.
	Put(ctx context.Context, namespace, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Keys lists the keys of a namespace in ascending order.
	Keys(ctx context.Context, namespace string) ([]string, error)
}
