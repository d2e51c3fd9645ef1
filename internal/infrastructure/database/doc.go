// Package database acquires SQLite store connections for sqlitetool.
//
// Every operation opens its own connection through WithConnection and the
// connection is released on every exit path, panics included. There is no
// pool shared across operations and no cached handle; the store's own
// file locking governs concurrent access from other processes.
//
// Usage:
//
//	err := database.WithConnection(ctx, database.Config{Path: path}, func(ctx context.Context, conn *sqlx.DB) error {
//	    _, err := conn.ExecContext(ctx, "DELETE FROM t WHERE id = ?", 1)
//	    return err
//	})
//
// Security Considerations:
//   - Created store files get 0600 permissions, directories 0750
//   - Foreign keys are enforced on every connection
package database
