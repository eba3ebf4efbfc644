// Package copy implements the file copy service: every matching input file is copied into
// the output directory under its base name.
package copy

import (
	"context"
	"path/filepath"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/core/reconcile"
	"github.com/tigerroll/statickg/pkg/etl/core/service"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/fileutil"
)

const (
	// Classpath is the configured implementation reference of the service.
	Classpath = "statickg.services.copy.CopyService"
	// Alias is the short implementation reference.
	Alias = "copy"
)

// ConstructArgs are the constructor arguments.
type ConstructArgs struct {
	Parallelism int `yaml:"parallelism"`
}

// CopyService copies input files. The cache key of a file is its content key.
type CopyService struct {
	service.BaseFileService
}

var _ service.Service = (*CopyService)(nil)

// New is the service.Builder of CopyService.
func New(ctx context.Context, env service.Env, args map[string]interface{}) (service.Service, error) {
	var cargs ConstructArgs
	if err := service.BindArgs(env.Name, env.Dirs, args, &cargs); err != nil {
		return nil, err
	}
	s := &CopyService{BaseFileService: service.NewBaseFileService(env)}
	if cargs.Parallelism > 0 {
		s.Parallelism = cargs.Parallelism
	}
	return s, nil
}

// Forward copies the files matching args.input into args.output.
func (s *CopyService) Forward(ctx context.Context, repo source.Repository, args map[string]interface{}, tracker *model.ETLFileTracker) error {
	var a service.FileTaskArgs
	if err := service.BindArgs(s.Name, s.Dirs, args, &a); err != nil {
		return err
	}
	if a.Output.RelPath == "" && a.Output.BasePath == "" {
		return exception.NewETLErrorf(s.Name, exception.ErrInvalidConfig, "missing output directory")
	}

	files, err := s.ListFiles(ctx, repo, a.Input, service.ListOptions{Optional: a.Optional, UniqueName: model.InputFile.Name})
	if err != nil {
		return err
	}

	outdir := a.Output.Path()
	r := reconcile.NewReconciler(s.Name, s.Storage, s.Store, s.Recorder, model.InputFile.Name)
	if _, err := r.Reconcile(ctx, files, outdir, tracker); err != nil {
		return err
	}

	return s.ForEach(ctx, files, func(ctx context.Context, f model.InputFile) error {
		outfile := filepath.Join(outdir, f.Name())
		existed := fileutil.Exists(outfile)
		ran, err := cache.Auto(ctx, s.Store, f.Ident(), f.Key, outfile, func() error {
			if err := fileutil.CopyFileAtomic(f.Path, outfile); err != nil {
				return exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to copy %s", f.Ident(), err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if ran {
			s.Track(ctx, tracker, outfile, existed)
		}
		s.LogProgress(ctx, ran, f.Ident())
		return nil
	})
}

// Close implements service.Service.
func (s *CopyService) Close() error {
	return nil
}
