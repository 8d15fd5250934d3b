// Package storage provides the shared persistence handle handed to every
// add-on.
//
// Two implementations satisfy addon.Storage:
//   - SQLite: a file-backed store with WAL mode and embedded schema migrations
//   - Memory: a process-local store for tests and ephemeral hubs
//
// The host opens exactly one store at startup and closes it after the
// runtime has stopped every add-on. Both implementations are safe for
// concurrent use; each operation is atomic on its own.
//
// Example usage:
//
//	store, err := storage.Open(ctx, storage.Config{
//	    Path:        "/var/lib/homehub/hub.db",
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package storage
