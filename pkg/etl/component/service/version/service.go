// Package version implements the version stamper: a small Turtle document describing which
// source snapshot the knowledge graph was built from.
package version

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/knakk/rdf"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/core/service"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/fileutil"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

const (
	// Classpath is the configured implementation reference of the service.
	Classpath = "statickg.services.version.VersionService"
	// Alias is the short implementation reference.
	Alias = "version"
)

const (
	rdfType        = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	dctermsVersion = "http://purl.org/dc/terms/hasVersion"
	dctermsCreated = "http://purl.org/dc/terms/created"
	xsdDateTime    = "http://www.w3.org/2001/XMLSchema#dateTime"
)

// InvokeArgs are the task arguments.
type InvokeArgs struct {
	// Entity is the IRI of the described dataset.
	Entity string `yaml:"entity"`
	// EntityType is an optional rdf:type of Entity.
	EntityType string        `yaml:"entity_type"`
	Output     model.RelPath `yaml:"output"`
}

// VersionService writes the version document of the repository snapshot.
type VersionService struct {
	service.BaseFileService
}

var _ service.Service = (*VersionService)(nil)

// New is the service.Builder of VersionService. It takes no constructor arguments.
func New(_ context.Context, env service.Env, _ map[string]interface{}) (service.Service, error) {
	return &VersionService{BaseFileService: service.NewBaseFileService(env)}, nil
}

// Forward writes the document to args.output. The file is only rewritten when its content
// changes, in which case an ADD or MODIFY is tracked.
func (s *VersionService) Forward(ctx context.Context, repo source.Repository, args map[string]interface{}, tracker *model.ETLFileTracker) error {
	var a InvokeArgs
	if err := service.BindArgs(s.Name, s.Dirs, args, &a); err != nil {
		return err
	}
	if a.Entity == "" || a.Output.Ident() == "" {
		return exception.NewETLErrorf(s.Name, exception.ErrInvalidConfig, "entity and output are required")
	}

	versionID, err := repo.VersionID(ctx)
	if err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to get the repository version", err)
	}
	createdAt, err := repo.VersionCreatedAt(ctx)
	if err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to get the repository version time", err)
	}

	doc, err := Document(a.Entity, a.EntityType, versionID, createdAt)
	if err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to serialize the version of %s", a.Entity, err)
	}

	outfile := a.Output.Path()
	previous, err := os.ReadFile(outfile)
	existed := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to read %s", outfile, err)
	}
	if existed && bytes.Equal(previous, doc) {
		s.LogProgress(ctx, false, a.Output.Ident())
		return nil
	}

	logger.Infof("[%s] writing version %s to %s", s.Name, versionID, a.Output.Ident())
	if err := os.MkdirAll(filepath.Dir(outfile), 0o755); err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to create the directory of %s", outfile, err)
	}
	if err := fileutil.WriteFileAtomic(outfile, doc, 0o644); err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to write %s", outfile, err)
	}
	s.Track(ctx, tracker, outfile, existed)
	return nil
}

// Document serializes the version statements of entity as Turtle.
func Document(entity, entityType, versionID string, createdAt time.Time) ([]byte, error) {
	subj, err := rdf.NewIRI(entity)
	if err != nil {
		return nil, err
	}
	var triples []rdf.Triple
	if entityType != "" {
		typ, err := rdf.NewIRI(entityType)
		if err != nil {
			return nil, err
		}
		triples = append(triples, rdf.Triple{Subj: subj, Pred: mustIRI(rdfType), Obj: typ})
	}

	version, err := rdf.NewLiteral(versionID)
	if err != nil {
		return nil, err
	}
	created := rdf.NewTypedLiteral(createdAt.UTC().Format(time.RFC3339), mustIRI(xsdDateTime))
	triples = append(triples,
		rdf.Triple{Subj: subj, Pred: mustIRI(dctermsVersion), Obj: version},
		rdf.Triple{Subj: subj, Pred: mustIRI(dctermsCreated), Obj: created},
	)

	var buf bytes.Buffer
	enc := rdf.NewTripleEncoder(&buf, rdf.Turtle)
	if err := enc.EncodeAll(triples); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mustIRI(s string) rdf.IRI {
	iri, err := rdf.NewIRI(s)
	if err != nil {
		panic(err)
	}
	return iri
}

// Close implements service.Service.
func (s *VersionService) Close() error {
	return nil
}
