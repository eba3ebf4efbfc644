// Package source defines the contract of a versioned source tree.
package source

import (
	"context"
	"time"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
)

// Repository yields content-keyed input files and version metadata of a source snapshot.
type Repository interface {
	// Root returns the absolute root directory of the checkout.
	Root() string
	// Glob lists the files of the current snapshot whose path relative to Root matches pattern.
	// Keys are stable across repeated listings of the same content.
	Glob(ctx context.Context, pattern string) ([]model.InputFile, error)
	// Fetch re-synchronizes the repository and reports whether new data is available.
	Fetch(ctx context.Context) (bool, error)
	// VersionID identifies the current snapshot. It changes exactly when the snapshot changes.
	VersionID(ctx context.Context) (string, error)
	// VersionCreatedAt returns the creation time of the current snapshot.
	VersionCreatedAt(ctx context.Context) (time.Time, error)
}
