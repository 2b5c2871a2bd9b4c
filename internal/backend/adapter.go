// Package backend abstracts the document store behind a small
// list/read/write/remove/move contract. The graph store is generic over
// this interface and never branches on which implementation it holds.
package backend

import "context"

// Entry is one item in a listing.
type Entry struct {
	Path        string `json:"path"`
	IsContainer bool   `json:"isContainer"`
}

// Adapter is the persistence contract implemented by the local store, the
// remote client, and the in-memory fake. All failures map onto the apperr
// taxonomy so callers stay backend-agnostic. A Write that fails leaves the
// prior persisted content unchanged.
type Adapter interface {
	// List returns every entry under root (relative paths), containers
	// included, in lexicographic path order.
	List(ctx context.Context, root string) ([]Entry, error)
	// Read returns the raw document at path.
	Read(ctx context.Context, path string) (string, error)
	// Write persists raw at path, creating parent containers as needed.
	Write(ctx context.Context, path string, raw string) error
	// Remove deletes the entry at path; containers are removed recursively.
	Remove(ctx context.Context, path string) error
	// Move renames oldPath to newPath. The destination must be free.
	Move(ctx context.Context, oldPath, newPath string) error
	// MakeDir creates an empty container at path.
	MakeDir(ctx context.Context, path string) error
}
