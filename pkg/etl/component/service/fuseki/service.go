// Package fuseki implements the versioned store loader. It keeps numbered generations of an
// Apache Jena Fuseki database on disk, decides between an incremental and a full reload, loads
// inputs in resumable batches and starts a network instance of the store when one is needed.
package fuseki

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/core/service"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
	"github.com/tigerroll/statickg/pkg/etl/support/util/shell"
)

const (
	// Classpath is the configured implementation reference of the service.
	Classpath = "statickg.services.fuseki.FusekiDataLoaderService"
	// Alias is the short implementation reference.
	Alias = "fuseki"

	defaultBatchSize = 10
	defaultHostname  = "http://localhost"
	defaultStartPort = 3031
)

// ConstructArgs are the constructor arguments.
type ConstructArgs struct {
	BatchSize int `yaml:"batch_size"`
	// Hostname is the scheme and host of instances started by the loader.
	Hostname  string `yaml:"hostname"`
	StartPort int    `yaml:"start_port"`
	// StopOnClose stops the instance started by the loader when the run ends.
	StopOnClose bool `yaml:"stop_on_close"`
}

// Endpoint locates the store instance and the commands managing it. Start, Stop and FindByID
// are shell templates: {ID} is the instance id, {PORT} its port and {DB_DIR} the generation.
type Endpoint struct {
	Update   string `yaml:"update"`
	GSP      string `yaml:"gsp"`
	Start    string `yaml:"start"`
	Stop     string `yaml:"stop"`
	FindByID string `yaml:"find_by_id"`
}

// LoadArgs configure the offline bulk load. Command is a shell template with {DB_DIR} and
// {FILES}, where files are relative to BaseDir.
type LoadArgs struct {
	Command string        `yaml:"command"`
	BaseDir model.RelPath `yaml:"basedir"`
	DBDir   model.RelPath `yaml:"dbdir"`
}

// InvokeArgs are the task arguments.
type InvokeArgs struct {
	Input []model.RelPath `yaml:"input"`
	// ReplaceableInput lists files updated in place. Their previous triples are deleted before
	// the new content is uploaded.
	ReplaceableInput []model.RelPath `yaml:"replaceable_input"`
	Optional         bool            `yaml:"optional"`
	Endpoint         Endpoint        `yaml:"endpoint"`
	Load             LoadArgs        `yaml:"load"`
}

type loadMode string

const (
	modeFull        loadMode = "full"
	modeIncremental loadMode = "incremental"
	modeResume      loadMode = "resume"
)

// LoaderService loads RDF files into the latest generation of the store.
type LoaderService struct {
	service.BaseFileService

	batchSize   int
	hostname    string
	startPort   int
	stopOnClose bool
	findPort    func(start int) (int, error)

	live         *liveInstance
	lastEndpoint *Endpoint
}

var _ service.Service = (*LoaderService)(nil)

// New is the service.Builder of LoaderService.
func New(_ context.Context, env service.Env, args map[string]interface{}) (service.Service, error) {
	env = env.WithDefaults()
	var cargs ConstructArgs
	if err := service.BindArgs(env.Name, env.Dirs, args, &cargs); err != nil {
		return nil, err
	}
	return NewLoader(env, cargs), nil
}

// NewLoader creates the loader from typed arguments.
func NewLoader(env service.Env, cargs ConstructArgs) *LoaderService {
	s := &LoaderService{
		BaseFileService: service.NewBaseFileService(env),
		batchSize:       cargs.BatchSize,
		hostname:        strings.TrimSuffix(cargs.Hostname, "/"),
		startPort:       cargs.StartPort,
		stopOnClose:     cargs.StopOnClose,
		findPort:        findFreePort,
	}
	if s.batchSize < 1 {
		s.batchSize = defaultBatchSize
	}
	if s.hostname == "" {
		s.hostname = defaultHostname
	}
	if s.startPort < 1 {
		s.startPort = defaultStartPort
	}
	return s
}

// Forward brings the latest generation up to date with the inputs matching args.
func (s *LoaderService) Forward(ctx context.Context, repo source.Repository, args map[string]interface{}, _ *model.ETLFileTracker) error {
	var a InvokeArgs
	if err := service.BindArgs(s.Name, s.Dirs, args, &a); err != nil {
		return err
	}
	if a.Load.Command == "" || a.Load.DBDir.Ident() == "" {
		return exception.NewETLErrorf(s.Name, exception.ErrInvalidConfig, "load.command and load.dbdir are required")
	}
	ep := a.Endpoint
	s.lastEndpoint = &ep

	infiles, err := s.ListFiles(ctx, repo, a.Input, service.ListOptions{Optional: a.Optional, UniqueName: model.InputFile.Name})
	if err != nil {
		return err
	}
	var replaceable []model.InputFile
	if len(a.ReplaceableInput) > 0 {
		replaceable, err = s.ListFiles(ctx, repo, a.ReplaceableInput, service.ListOptions{Optional: a.Optional, UniqueName: model.InputFile.Name})
		if err != nil {
			return err
		}
	}
	required := make(map[string]struct{}, len(infiles))
	for _, f := range infiles {
		required[f.Ident()] = struct{}{}
	}
	for _, f := range replaceable {
		if _, ok := required[f.Ident()]; ok {
			return exception.NewETLErrorf(s.Name, exception.ErrInvalidConfig, "%s is matched by both input and replaceable_input", f.Ident())
		}
	}
	for _, f := range append(append([]model.InputFile{}, infiles...), replaceable...) {
		if !strings.EqualFold(filepath.Ext(f.Path), ".ttl") {
			return exception.NewETLErrorf(s.Name, exception.ErrInvalidConfig, "%s: only turtle files can be loaded", f.Ident())
		}
	}

	dbinfo, err := s.currentDBInfo(ctx, a)
	if err != nil {
		return err
	}
	mode, err := s.decide(ctx, dbinfo, infiles, replaceable)
	if err != nil {
		return err
	}
	if dbinfo, err = s.prepare(ctx, mode, dbinfo); err != nil {
		return err
	}
	s.Recorder.RecordGeneration(ctx, s.Name, dbinfo.Version)
	logger.Infof("[%s] loading data to %s (mode = %s)", s.Name, dbinfo.Dir, mode)

	loaded, err := s.Store.All(ctx)
	if err != nil {
		return s.storeErr(err, "failed to read the cache")
	}
	var pending []model.InputFile
	for _, f := range infiles {
		if _, ok := loaded[f.Ident()]; ok {
			s.LogProgress(ctx, false, f.Ident())
			continue
		}
		pending = append(pending, f)
	}

	if err := dbinfo.Invalidate(); err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrStoreLoad, "failed to invalidate %s", dbinfo.Dir, err)
	}
	for i := 0; i < len(pending); i += s.batchSize {
		end := i + s.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := s.loadBatch(ctx, a, dbinfo, pending[i:end]); err != nil {
			return err
		}
	}

	for _, f := range replaceable {
		f := f
		_, loadedBefore := loaded[f.Ident()]
		ran, err := cache.Auto(ctx, s.Store, f.Ident(), dbinfo.FileKey(f.Key), "", func() error {
			return s.loadFiles(ctx, a, dbinfo, []model.InputFile{f}, loadedBefore)
		})
		if err != nil {
			return err
		}
		if ran {
			s.Recorder.RecordFileProcessed(ctx, s.Name)
		}
		s.LogProgress(ctx, ran, f.Ident())
	}

	if err := dbinfo.MarkValid(); err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrStoreLoad, "failed to mark %s valid", dbinfo.Dir, err)
	}
	return nil
}

// currentDBInfo describes the highest generation and probes for an instance serving it.
func (s *LoaderService) currentDBInfo(ctx context.Context, a InvokeArgs) (*DBInfo, error) {
	root := a.Load.DBDir.Path()
	version, err := latestVersion(root)
	if err != nil {
		return nil, exception.NewETLErrorf(s.Name, exception.ErrStoreLoad, "failed to list generations in %s", root, err)
	}
	dbinfo := newDBInfo(a.Load.Command, root, version)

	if s.live != nil && s.live.dir == dbinfo.Dir {
		dbinfo.Hostname = s.live.hostname
		return dbinfo, nil
	}
	if a.Endpoint.FindByID == "" {
		return dbinfo, nil
	}
	cmd := shell.Format(model.ResolveRefs(a.Endpoint.FindByID, s.Dirs), map[string]string{"ID": shell.Quote(dbinfo.InstanceID())})
	out, err := s.Shell.Run(ctx, cmd)
	if err != nil {
		return nil, exception.NewETLErrorf(s.Name, exception.ErrServiceLifecycle, "failed to look up %s", dbinfo.InstanceID(), err)
	}
	if dbinfo.Hostname, err = parseHostname(string(out)); err != nil {
		return nil, exception.NewETLErrorf(s.Name, exception.ErrServiceLifecycle, "failed to look up %s", dbinfo.InstanceID(), err)
	}
	if dbinfo.Live() {
		logger.Infof("[%s] %s is served at %s", s.Name, dbinfo.InstanceID(), dbinfo.Hostname)
	}
	return dbinfo, nil
}

// decide picks the load mode of dbinfo.
//
// A valid generation is loaded incrementally when the cache holds exactly one record per input
// and every required input has a succeeded record with its current key. An invalid generation
// without an instance is resumed when its directory still exists and every cache record belongs
// to a current input and carries its current key. Anything else is reloaded from scratch.
func (s *LoaderService) decide(ctx context.Context, dbinfo *DBInfo, infiles, replaceable []model.InputFile) (loadMode, error) {
	records, err := s.Store.All(ctx)
	if err != nil {
		return "", s.storeErr(err, "failed to read the cache")
	}

	if dbinfo.IsValid() {
		if len(records) != len(infiles)+len(replaceable) {
			return modeFull, nil
		}
		for _, f := range infiles {
			rec, ok := records[f.Ident()]
			if !ok || rec.Key != dbinfo.FileKey(f.Key) || !rec.Succeeded {
				return modeFull, nil
			}
		}
		return modeIncremental, nil
	}

	if dbinfo.Live() || len(records) == 0 || !dbinfo.Exists() {
		return modeFull, nil
	}
	current := make(map[string]string, len(infiles)+len(replaceable))
	for _, f := range append(append([]model.InputFile{}, infiles...), replaceable...) {
		current[f.Ident()] = dbinfo.FileKey(f.Key)
	}
	for id, rec := range records {
		if key, ok := current[id]; !ok || rec.Key != key {
			return modeFull, nil
		}
	}
	return modeResume, nil
}

// prepare sets the cache and the generation directory up for mode and returns the generation
// to load into.
func (s *LoaderService) prepare(ctx context.Context, mode loadMode, d *DBInfo) (*DBInfo, error) {
	switch mode {
	case modeFull:
		if err := s.Store.Clear(ctx); err != nil {
			return nil, s.storeErr(err, "failed to clear the cache")
		}
		if d.Live() {
			// A served generation is never rewritten.
			d = d.Next()
		} else if !d.IsValid() {
			if err := os.RemoveAll(d.Dir); err != nil {
				return nil, exception.NewETLErrorf(s.Name, exception.ErrStoreLoad, "failed to discard %s", d.Dir, err)
			}
		}
	case modeResume:
		records, err := s.Store.All(ctx)
		if err != nil {
			return nil, s.storeErr(err, "failed to read the cache")
		}
		for id, rec := range records {
			if rec.Succeeded {
				continue
			}
			if err := s.Store.Delete(ctx, id); err != nil {
				return nil, s.storeErr(err, "failed to reset %s", id)
			}
		}
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, exception.NewETLErrorf(s.Name, exception.ErrStoreLoad, "failed to create %s", d.Dir, err)
	}
	return d, nil
}

// loadBatch loads files, marking them attempted before the load and done after it.
func (s *LoaderService) loadBatch(ctx context.Context, a InvokeArgs, dbinfo *DBInfo, files []model.InputFile) error {
	for _, f := range files {
		if err := s.Store.Commit(ctx, f.Ident(), dbinfo.FileKey(f.Key), false); err != nil {
			return s.storeErr(err, "failed to mark %s as attempted", f.Ident())
		}
	}
	if err := s.loadFiles(ctx, a, dbinfo, files, false); err != nil {
		logger.Errorf("[%s] failed to load a batch of %d files into %s: %v", s.Name, len(files), dbinfo.Dir, err)
		return err
	}
	for _, f := range files {
		if err := s.Store.Commit(ctx, f.Ident(), dbinfo.FileKey(f.Key), true); err != nil {
			return s.storeErr(err, "failed to mark %s as loaded", f.Ident())
		}
		s.Recorder.RecordFileProcessed(ctx, s.Name)
		s.LogProgress(ctx, true, f.Ident())
	}
	s.Recorder.RecordBatchLoaded(ctx, s.Name, len(files))
	return nil
}

// loadFiles loads files into dbinfo. When replace is set, the subjects of the files are first
// deleted through a live instance. A live generation is loaded through its graph store
// endpoint; otherwise the bulk load command writes the directory directly.
func (s *LoaderService) loadFiles(ctx context.Context, a InvokeArgs, dbinfo *DBInfo, files []model.InputFile, replace bool) error {
	if replace {
		if err := s.ensureLive(ctx, a.Endpoint, dbinfo); err != nil {
			return err
		}
		for _, f := range files {
			if err := s.deleteSubjects(ctx, dbinfo.Hostname+a.Endpoint.Update, f.Path); err != nil {
				return err
			}
		}
	}

	if dbinfo.Live() {
		for _, f := range files {
			if err := s.upload(ctx, dbinfo.Hostname+a.Endpoint.GSP, f.Path); err != nil {
				return err
			}
		}
		return nil
	}

	basedir := a.Load.BaseDir.Path()
	rels := make([]string, len(files))
	for i, f := range files {
		rel, err := filepath.Rel(basedir, f.Path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return exception.NewETLErrorf(s.Name, exception.ErrInvalidConfig, "%s is outside of load.basedir %s", f.Path, basedir)
		}
		rels[i] = filepath.ToSlash(rel)
	}
	cmd := shell.Format(model.ResolveRefs(a.Load.Command, s.Dirs), map[string]string{
		"DB_DIR": shell.Quote(dbinfo.Dir),
		"FILES":  shell.QuoteAll(rels),
	})
	if _, err := s.Shell.Run(ctx, cmd); err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrStoreLoad, "failed to load %d files into %s", len(files), dbinfo.Dir, err)
	}
	return nil
}

func (s *LoaderService) storeErr(err error, format string, a ...interface{}) error {
	if exception.IsETLError(err) {
		return err
	}
	return exception.NewETLErrorf(s.Name, exception.ErrCacheStore, format, append(a, err)...)
}

// Close stops the instance started by the loader when stop_on_close is set.
func (s *LoaderService) Close() error {
	if !s.stopOnClose || s.live == nil || s.lastEndpoint == nil {
		return nil
	}
	return s.stop(context.Background(), *s.lastEndpoint)
}
