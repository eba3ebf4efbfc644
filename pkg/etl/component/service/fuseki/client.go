package fuseki

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/knakk/rdf"

	"github.com/tigerroll/statickg/pkg/etl/engine/retry"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// upload posts the Turtle content of path to the graph store endpoint.
func (s *LoaderService) upload(ctx context.Context, endpoint, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrStoreLoad, "failed to read %s", path, err)
	}
	return s.post(ctx, "upload "+path, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/turtle; charset=utf-8")
		return req, nil
	})
}

// deleteSubjects removes every triple whose subject is described in path.
func (s *LoaderService) deleteSubjects(ctx context.Context, endpoint, path string) error {
	subjects, err := extractSubjects(path)
	if err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrStoreLoad, "failed to parse %s", path, err)
	}
	if len(subjects) == 0 {
		return nil
	}
	logger.Debugf("[%s] deleting %d subjects of %s", s.Name, len(subjects), path)
	form := url.Values{"update": {DeleteQuery(subjects)}}.Encode()
	return s.post(ctx, "delete "+path, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/sparql-results+json")
		return req, nil
	})
}

// post sends the request built by newReq under the retry policy. Transport errors and 5xx
// responses are retried; any other non-2xx response fails at once.
func (s *LoaderService) post(ctx context.Context, op string, newReq func(ctx context.Context) (*http.Request, error)) error {
	err := retry.Do(ctx, s.Retry, op, func(ctx context.Context) error {
		req, err := newReq(ctx)
		if err != nil {
			return err
		}
		resp, err := s.HTTP.Do(req)
		if err != nil {
			return retry.Retryable(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err = fmt.Errorf("%s returned %d: %s", req.URL, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 {
			return retry.Retryable(err)
		}
		return err
	})
	if err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrStoreLoad, "%s failed", op, err)
	}
	return nil
}

// DeleteQuery builds the update removing every triple of subjects.
func DeleteQuery(subjects []string) string {
	var b strings.Builder
	b.WriteString("DELETE { ?s ?p ?o } WHERE { ?s ?p ?o VALUES ?s {")
	for _, s := range subjects {
		b.WriteString(" <")
		b.WriteString(s)
		b.WriteString(">")
	}
	b.WriteString(" } }")
	return b.String()
}

// extractSubjects returns the distinct IRI subjects of a Turtle file, in order of appearance.
// Blank nodes are skipped.
func extractSubjects(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	triples, err := rdf.NewTripleDecoder(f, rdf.Turtle).DecodeAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var subjects []string
	for _, t := range triples {
		iri, ok := t.Subj.(rdf.IRI)
		if !ok {
			continue
		}
		if _, dup := seen[iri.String()]; dup {
			continue
		}
		seen[iri.String()] = struct{}{}
		subjects = append(subjects, iri.String())
	}
	return subjects, nil
}
