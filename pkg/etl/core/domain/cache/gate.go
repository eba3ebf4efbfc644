package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
)

const moduleName = "cache"

// WithCache is the auto-cache gate. It returns notFound=false when unitID has a succeeded
// record with key expectedKey and outputLocation (when not empty) exists on disk. Otherwise
// it returns notFound=true and the caller must do the work, then Commit with succeeded=true.
func WithCache(ctx context.Context, store Store, unitID, expectedKey, outputLocation string) (bool, error) {
	status, found, err := store.Lookup(ctx, unitID)
	if err != nil {
		return false, wrapStoreErr(err, "failed to look up %s", unitID)
	}
	if !found || status.Key != expectedKey || !status.Succeeded {
		return true, nil
	}
	if outputLocation != "" {
		if _, err := os.Stat(outputLocation); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return true, nil
			}
			return false, exception.NewETLErrorf(moduleName, exception.ErrCacheStore, "failed to stat output %s of %s", outputLocation, unitID, err)
		}
	}
	return false, nil
}

// Auto runs work when WithCache reports a miss and commits success only when work returns nil.
// A failing work leaves the unit stale, so the next run retries it.
// It reports whether work ran.
func Auto(ctx context.Context, store Store, unitID, expectedKey, outputLocation string, work func() error) (bool, error) {
	notFound, err := WithCache(ctx, store, unitID, expectedKey, outputLocation)
	if err != nil {
		return false, err
	}
	if !notFound {
		return false, nil
	}
	if err := work(); err != nil {
		return true, err
	}
	if err := store.Commit(ctx, unitID, expectedKey, true); err != nil {
		return true, wrapStoreErr(err, "failed to commit %s", unitID)
	}
	return true, nil
}

// Keys returns the unit ids recorded in store.
func Keys(ctx context.Context, store Store) ([]string, error) {
	all, err := store.All(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	return keys, nil
}

func wrapStoreErr(err error, format string, a ...interface{}) error {
	if errors.Is(err, exception.ErrCacheStore) {
		return err
	}
	return exception.NewETLErrorf(moduleName, exception.ErrCacheStore, format, append(a, err)...)
}
