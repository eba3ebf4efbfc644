// Package reconcile removes the outputs of inputs that disappeared from the source.
package reconcile

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tigerroll/statickg/pkg/etl/adapter/storage"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/metrics"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

const moduleName = "reconcile"

// OutputNameFunc maps an input file to the name of its output inside the output directory.
type OutputNameFunc func(model.InputFile) string

// Reconciler runs the deletion pass of one file service. It must run before the service
// processes any input so that a later failure cannot leave a stale output behind.
type Reconciler struct {
	service    string
	storage    storage.StorageProvider
	store      cache.Store
	recorder   metrics.MetricRecorder
	outputName OutputNameFunc
}

// NewReconciler creates a Reconciler for service. store may be nil, in which case cache
// records are not pruned.
func NewReconciler(service string, provider storage.StorageProvider, store cache.Store, recorder metrics.MetricRecorder, outputName OutputNameFunc) *Reconciler {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Reconciler{
		service:    service,
		storage:    provider,
		store:      store,
		recorder:   recorder,
		outputName: outputName,
	}
}

// Reconcile deletes every file directly inside outputDir that is not the output of one of
// current, tracks a REMOVE for it, and drops cache records of units not in current.
// Running it twice with the same inputs is a no-op the second time.
func (r *Reconciler) Reconcile(ctx context.Context, current []model.InputFile, outputDir string, tracker *model.ETLFileTracker) ([]model.FileChange, error) {
	conn, err := r.storage.GetConnection(outputDir)
	if err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrTransformation, "failed to open output directory %s of %s", outputDir, r.service, err)
	}

	expected := make(map[string]struct{}, len(current))
	idents := make(map[string]struct{}, len(current))
	for _, f := range current {
		expected[r.outputName(f)] = struct{}{}
		idents[f.Ident()] = struct{}{}
	}

	var stale []string
	err = conn.ListObjects(ctx, "", func(name string) error {
		// Nested files are not outputs of a per-file service.
		if strings.Contains(name, "/") {
			return nil
		}
		if _, ok := expected[name]; !ok {
			stale = append(stale, name)
		}
		return nil
	})
	if err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrTransformation, "failed to list %s", outputDir, err)
	}
	sort.Strings(stale)

	changes := make([]model.FileChange, 0, len(stale))
	for _, name := range stale {
		if err := conn.DeleteObject(ctx, name); err != nil {
			return changes, exception.NewETLErrorf(moduleName, exception.ErrTransformation, "failed to delete stale output %s", name, err)
		}
		path := filepath.Join(conn.BaseDir(), name)
		logger.Infof("[%s] removed stale output %s", r.service, path)
		if tracker != nil {
			tracker.Track(path, model.ChangeRemove)
		}
		r.recorder.RecordFileRemoved(ctx, r.service)
		changes = append(changes, model.FileChange{Path: path, Change: model.ChangeRemove})
	}

	if r.store != nil {
		if err := r.prune(ctx, idents); err != nil {
			return changes, err
		}
	}
	return changes, nil
}

func (r *Reconciler) prune(ctx context.Context, idents map[string]struct{}) error {
	ids, err := cache.Keys(ctx, r.store)
	if err != nil {
		return exception.NewETLErrorf(moduleName, exception.ErrCacheStore, "failed to list cache records of %s", r.service, err)
	}
	for _, id := range ids {
		if _, ok := idents[id]; ok {
			continue
		}
		if err := r.store.Delete(ctx, id); err != nil {
			return exception.NewETLErrorf(moduleName, exception.ErrCacheStore, "failed to drop cache record %s", id, err)
		}
		logger.Debugf("[%s] dropped cache record %s", r.service, id)
	}
	return nil
}
