package fuseki

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/statickg/pkg/etl/core/config"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/service"
	"github.com/tigerroll/statickg/pkg/etl/engine/retry"
	"github.com/tigerroll/statickg/pkg/etl/infrastructure/cache/inmemory"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
)

type fakeShell struct {
	mu       sync.Mutex
	commands []string
	handle   func(cmd string) ([]byte, error)
}

func (f *fakeShell) Run(_ context.Context, cmd string) ([]byte, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	handle := f.handle
	f.mu.Unlock()
	if handle != nil {
		return handle(cmd)
	}
	return nil, nil
}

// take returns the recorded commands starting with one of prefixes and forgets every command.
func (f *fakeShell) take(prefixes ...string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		for _, p := range prefixes {
			if strings.HasPrefix(c, p) {
				out = append(out, c)
				break
			}
		}
	}
	f.commands = nil
	return out
}

type recordedRequest struct {
	Path        string
	ContentType string
	Body        string
	Update      string
}

type fakeFuseki struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newFakeFuseki(t *testing.T) *fakeFuseki {
	t.Helper()
	f := &fakeFuseki{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Path: r.URL.Path, ContentType: r.Header.Get("Content-Type")}
		if strings.HasPrefix(rec.ContentType, "application/x-www-form-urlencoded") {
			_ = r.ParseForm()
			rec.Update = r.PostForm.Get("update")
		} else {
			body, _ := io.ReadAll(r.Body)
			rec.Body = string(body)
		}
		f.mu.Lock()
		f.requests = append(f.requests, rec)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeFuseki) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeFuseki) port(t *testing.T) int {
	_, port, err := net.SplitHostPort(f.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return p
}

type fixture struct {
	dataDir string
	dirs    map[model.BaseType]string
	backend cache.Backend
	shell   *fakeShell
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "ttl"), 0o755))
	return &fixture{
		dataDir: dataDir,
		dirs:    map[model.BaseType]string{model.BaseDataDir: dataDir},
		backend: inmemory.NewBackend(),
		shell:   &fakeShell{},
	}
}

func (fx *fixture) loader(cargs ConstructArgs) *LoaderService {
	env := service.Env{Name: "fuseki", Dirs: fx.dirs, Cache: fx.backend, Shell: fx.shell}
	return NewLoader(env, cargs)
}

func (fx *fixture) write(t *testing.T, rel, subject, value string) {
	t.Helper()
	path := filepath.Join(fx.dataDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := fmt.Sprintf("<http://example.org/%s> <http://example.org/value> %q .\n", subject, value)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (fx *fixture) generation(version int) string {
	return filepath.Join(fx.dataDir, "databases", "fuseki", fmt.Sprintf("version-%03d", version))
}

func (fx *fixture) records(t *testing.T) map[string]model.ProcessStatus {
	t.Helper()
	all, err := fx.backend.Namespace("fuseki").All(context.Background())
	require.NoError(t, err)
	return all
}

func taskArgs(replaceable bool) map[string]interface{} {
	args := map[string]interface{}{
		"input": "::DATA_DIR::ttl/*.ttl",
		"endpoint": map[string]interface{}{
			"update":     "/kg/update",
			"gsp":        "/kg/data",
			"start":      "start {ID} {PORT} {DB_DIR}",
			"stop":       "stop {ID}",
			"find_by_id": "find {ID}",
		},
		"load": map[string]interface{}{
			"command": "load {DB_DIR} {FILES}",
			"basedir": "::DATA_DIR::",
			"dbdir":   "::DATA_DIR::databases/fuseki",
		},
	}
	if replaceable {
		args["replaceable_input"] = "::DATA_DIR::version/version.ttl"
	}
	return args
}

func TestLoaderService_BatchesResumeAfterFailure(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	for i := 1; i <= 5; i++ {
		fx.write(t, fmt.Sprintf("ttl/f%d.ttl", i), fmt.Sprintf("f%d", i), "v1")
	}

	loads := 0
	fx.shell.handle = func(cmd string) ([]byte, error) {
		if strings.HasPrefix(cmd, "load ") {
			loads++
			if loads == 2 {
				return nil, errors.New("tdb2.tdbloader exited with status 1")
			}
		}
		return nil, nil
	}

	// first run fails on the second batch
	svc := fx.loader(ConstructArgs{BatchSize: 2})
	err := svc.Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrStoreLoad))

	gen := fx.generation(0)
	assert.Equal(t, []string{
		"load " + gen + " ttl/f1.ttl ttl/f2.ttl",
		"load " + gen + " ttl/f3.ttl ttl/f4.ttl",
	}, fx.shell.take("load "))
	assert.NoFileExists(t, filepath.Join(gen, SuccessMarker))

	records := fx.records(t)
	require.Len(t, records, 4)
	assert.True(t, records["::DATA_DIR::ttl/f1.ttl"].Succeeded)
	assert.True(t, records["::DATA_DIR::ttl/f2.ttl"].Succeeded)
	assert.False(t, records["::DATA_DIR::ttl/f3.ttl"].Succeeded)
	assert.False(t, records["::DATA_DIR::ttl/f4.ttl"].Succeeded)

	// the rerun only loads the failed batch and the remaining one
	svc = fx.loader(ConstructArgs{BatchSize: 2})
	require.NoError(t, svc.Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker()))
	assert.Equal(t, []string{
		"load " + gen + " ttl/f3.ttl ttl/f4.ttl",
		"load " + gen + " ttl/f5.ttl",
	}, fx.shell.take("load "))
	assert.FileExists(t, filepath.Join(gen, SuccessMarker))

	records = fx.records(t)
	require.Len(t, records, 5)
	for id, rec := range records {
		assert.True(t, rec.Succeeded, id)
	}

	// nothing changed: no load at all
	svc = fx.loader(ConstructArgs{BatchSize: 2})
	require.NoError(t, svc.Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker()))
	assert.Empty(t, fx.shell.take("load "))
	assert.FileExists(t, filepath.Join(gen, SuccessMarker))
}

func TestLoaderService_DiscardedGenerationIsReloaded(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "ttl/a.ttl", "a", "v1")
	fx.write(t, "ttl/b.ttl", "b", "v1")

	require.NoError(t, fx.loader(ConstructArgs{}).Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker()))
	gen := fx.generation(0)
	assert.Equal(t, []string{"load " + gen + " ttl/a.ttl ttl/b.ttl"}, fx.shell.take("load "))

	// the directory is gone but the cache still lists both files as loaded
	require.NoError(t, os.RemoveAll(gen))
	require.Len(t, fx.records(t), 2)

	require.NoError(t, fx.loader(ConstructArgs{}).Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker()))
	assert.Equal(t, []string{"load " + gen + " ttl/a.ttl ttl/b.ttl"}, fx.shell.take("load "))
	assert.FileExists(t, filepath.Join(gen, SuccessMarker))
	records := fx.records(t)
	require.Len(t, records, 2)
	for id, rec := range records {
		assert.True(t, rec.Succeeded, id)
	}
}

func TestLoaderService_InvalidGenerationWithForeignRecordsIsReloaded(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, fx *fixture)
	}{
		{
			name: "stale key",
			change: func(t *testing.T, fx *fixture) {
				fx.write(t, "ttl/a.ttl", "a", "v2")
			},
		},
		{
			name: "unknown unit",
			change: func(t *testing.T, fx *fixture) {
				store := fx.backend.Namespace("fuseki")
				require.NoError(t, store.Commit(context.Background(), "::DATA_DIR::ttl/gone.ttl", "cmd:load|version:0|k", true))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			fx := newFixture(t)
			fx.write(t, "ttl/a.ttl", "a", "v1")
			fx.write(t, "ttl/b.ttl", "b", "v1")

			loads := 0
			fx.shell.handle = func(cmd string) ([]byte, error) {
				if strings.HasPrefix(cmd, "load ") {
					loads++
					if loads == 2 {
						return nil, errors.New("tdb2.tdbloader exited with status 1")
					}
				}
				return nil, nil
			}
			require.Error(t, fx.loader(ConstructArgs{BatchSize: 1}).Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker()))
			fx.shell.take()

			gen := fx.generation(0)
			leftover := filepath.Join(gen, "Data-0001", "nodes.dat")
			require.NoError(t, os.MkdirAll(filepath.Dir(leftover), 0o755))
			require.NoError(t, os.WriteFile(leftover, []byte("x"), 0o644))
			tt.change(t, fx)

			require.NoError(t, fx.loader(ConstructArgs{BatchSize: 1}).Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker()))
			assert.Equal(t, []string{
				"load " + gen + " ttl/a.ttl",
				"load " + gen + " ttl/b.ttl",
			}, fx.shell.take("load "))
			assert.NoFileExists(t, leftover)
			assert.FileExists(t, filepath.Join(gen, SuccessMarker))

			records := fx.records(t)
			require.Len(t, records, 2)
			assert.NotContains(t, records, "::DATA_DIR::ttl/gone.ttl")
			for id, rec := range records {
				assert.True(t, rec.Succeeded, id)
			}
		})
	}
}

func TestLoaderService_RejectsOverlappingInputs(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "ttl/a.ttl", "a", "v1")
	args := taskArgs(false)
	args["replaceable_input"] = "::DATA_DIR::ttl/a.ttl"

	err := fx.loader(ConstructArgs{}).Forward(context.Background(), nil, args, model.NewETLFileTracker())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrInvalidConfig))
	assert.Empty(t, fx.shell.take("load "))
	assert.Empty(t, fx.records(t))
}

func TestLoaderService_FullReloadSkipsServedGeneration(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, "ttl/a.ttl", "a", "v1")
	fx.write(t, "ttl/b.ttl", "b", "v1")

	served := false
	fx.shell.handle = func(cmd string) ([]byte, error) {
		if served && cmd == "find fuseki-version-000" {
			return []byte("0.0.0.0:3031\n"), nil
		}
		return nil, nil
	}

	svc := fx.loader(ConstructArgs{})
	require.NoError(t, svc.Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker()))
	assert.Equal(t, []string{"load " + fx.generation(0) + " ttl/a.ttl ttl/b.ttl"}, fx.shell.take("load "))

	// version-000 is now served and an input changed
	served = true
	fx.write(t, "ttl/a.ttl", "a", "v2")
	svc = fx.loader(ConstructArgs{})
	require.NoError(t, svc.Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker()))
	assert.Equal(t, []string{"load " + fx.generation(1) + " ttl/a.ttl ttl/b.ttl"}, fx.shell.take("load "))

	assert.FileExists(t, filepath.Join(fx.generation(0), SuccessMarker))
	assert.FileExists(t, filepath.Join(fx.generation(1), SuccessMarker))
	for id, rec := range fx.records(t) {
		assert.True(t, strings.Contains(rec.Key, "|version:1|"), id)
	}

	// the next run continues from the latest generation
	svc = fx.loader(ConstructArgs{})
	require.NoError(t, svc.Forward(ctx, nil, taskArgs(false), model.NewETLFileTracker()))
	assert.Empty(t, fx.shell.take("load "))
}

func TestLoaderService_ReplaceableThroughServedInstance(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fuseki := newFakeFuseki(t)
	fx.write(t, "ttl/a.ttl", "a", "v1")
	fx.write(t, "version/version.ttl", "kg", "c1")

	served := false
	fx.shell.handle = func(cmd string) ([]byte, error) {
		if served && cmd == "find fuseki-version-000" {
			return []byte(fuseki.Listener.Addr().String()), nil
		}
		return nil, nil
	}

	svc := fx.loader(ConstructArgs{})
	require.NoError(t, svc.Forward(ctx, nil, taskArgs(true), model.NewETLFileTracker()))
	assert.Equal(t, []string{
		"load " + fx.generation(0) + " ttl/a.ttl",
		"load " + fx.generation(0) + " version/version.ttl",
	}, fx.shell.take("load "))
	assert.Len(t, fx.records(t), 2)

	// the version file is rewritten while version-000 is served
	served = true
	fx.write(t, "version/version.ttl", "kg", "c2")
	svc = fx.loader(ConstructArgs{})
	require.NoError(t, svc.Forward(ctx, nil, taskArgs(true), model.NewETLFileTracker()))
	assert.Empty(t, fx.shell.take("load ", "start "))

	requests := fuseki.recorded()
	require.Len(t, requests, 2)
	assert.Equal(t, "/kg/update", requests[0].Path)
	assert.Equal(t, "DELETE { ?s ?p ?o } WHERE { ?s ?p ?o VALUES ?s { <http://example.org/kg> } }", requests[0].Update)
	assert.Equal(t, "/kg/data", requests[1].Path)
	assert.Equal(t, "text/turtle; charset=utf-8", requests[1].ContentType)
	assert.Contains(t, requests[1].Body, `"c2"`)
	assert.FileExists(t, filepath.Join(fx.generation(0), SuccessMarker))
}

func TestLoaderService_StartsInstanceForReplacement(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fuseki := newFakeFuseki(t)
	fx.write(t, "ttl/a.ttl", "a", "v1")
	fx.write(t, "version/version.ttl", "kg", "c1")

	starts := 0
	fx.shell.handle = func(cmd string) ([]byte, error) {
		if strings.HasPrefix(cmd, "start ") {
			starts++
			if starts == 1 {
				return nil, errors.New("container name already in use")
			}
		}
		return nil, nil
	}

	svc := fx.loader(ConstructArgs{})
	require.NoError(t, svc.Forward(ctx, nil, taskArgs(true), model.NewETLFileTracker()))
	fx.shell.take()

	fx.write(t, "version/version.ttl", "kg", "c2")
	svc = fx.loader(ConstructArgs{Hostname: "http://127.0.0.1", StopOnClose: true})
	port := fuseki.port(t)
	svc.findPort = func(int) (int, error) { return port, nil }
	require.NoError(t, svc.Forward(ctx, nil, taskArgs(true), model.NewETLFileTracker()))
	require.NoError(t, svc.Close())

	start := fmt.Sprintf("start fuseki-version-000 %d %s", port, fx.generation(0))
	assert.Equal(t, []string{
		start,
		"stop fuseki-version-000",
		start,
		"stop fuseki-version-000",
	}, fx.shell.take("start ", "stop ", "load "))

	requests := fuseki.recorded()
	require.Len(t, requests, 2)
	assert.Equal(t, "/kg/update", requests[0].Path)
	assert.Equal(t, "/kg/data", requests[1].Path)
	assert.Nil(t, svc.live)
}

func TestLoaderService_InstanceStateIsExclusive(t *testing.T) {
	fx := newFixture(t)
	svc := fx.loader(ConstructArgs{})
	ep := Endpoint{Start: "start {ID}", Stop: "stop {ID}"}

	assert.Panics(t, func() { _ = svc.stop(context.Background(), ep) })

	svc.findPort = func(int) (int, error) { return 3031, nil }
	d := newDBInfo("load", filepath.Join(fx.dataDir, "db"), 0)
	require.NoError(t, svc.start(context.Background(), ep, d))
	assert.Equal(t, "http://localhost:3031", d.Hostname)

	other := d.Next()
	assert.Panics(t, func() { _ = svc.start(context.Background(), ep, other) })

	// a different generation replaces the running instance
	require.NoError(t, svc.ensureLive(context.Background(), ep, other))
	assert.Equal(t, other.Dir, svc.live.dir)
	assert.Equal(t, []string{"start fuseki-version-000", "stop fuseki-version-000", "start fuseki-version-001"}, fx.shell.take("start ", "stop "))
}

func TestLoaderService_RejectsNonTurtle(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, "ttl/a.nt", "a", "v1")
	args := taskArgs(false)
	args["input"] = "::DATA_DIR::ttl/*"

	err := fx.loader(ConstructArgs{}).Forward(context.Background(), nil, args, model.NewETLFileTracker())
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrInvalidConfig))
}

func TestLoaderService_UploadRetries(t *testing.T) {
	var calls int
	var mu sync.Mutex
	status := []int{http.StatusServiceUnavailable, http.StatusOK}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		code := http.StatusBadRequest
		if calls < len(status) {
			code = status[calls]
		}
		calls++
		w.WriteHeader(code)
	}))
	defer ts.Close()

	fx := newFixture(t)
	fx.write(t, "ttl/a.ttl", "a", "v1")
	env := service.Env{
		Name:  "fuseki",
		Dirs:  fx.dirs,
		Cache: fx.backend,
		Shell: fx.shell,
		Retry: retry.NewPolicy(config.RetryConfig{MaxAttempts: 3}),
	}
	svc := NewLoader(env, ConstructArgs{})
	path := filepath.Join(fx.dataDir, "ttl", "a.ttl")

	require.NoError(t, svc.upload(context.Background(), ts.URL+"/kg/data", path))
	assert.Equal(t, 2, calls)

	err := svc.upload(context.Background(), ts.URL+"/kg/data", path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrStoreLoad))
	assert.Equal(t, 3, calls)
}
