package fuseki

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
	"github.com/tigerroll/statickg/pkg/etl/support/util/shell"
)

// liveInstance is the instance started by this loader. A nil *liveInstance means none.
type liveInstance struct {
	id       string
	port     int
	dir      string
	hostname string
}

// findFreePort returns the first port from start on that can be bound on the loopback interface.
func findFreePort(start int) (int, error) {
	for port := start; port < 65536; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		if err := l.Close(); err != nil {
			return 0, err
		}
		return port, nil
	}
	return 0, fmt.Errorf("no free port from %d", start)
}

// ensureLive makes sure an instance serves dbinfo, starting one when needed.
func (s *LoaderService) ensureLive(ctx context.Context, ep Endpoint, dbinfo *DBInfo) error {
	if dbinfo.Live() {
		return nil
	}
	if s.live != nil {
		if s.live.dir == dbinfo.Dir {
			dbinfo.Hostname = s.live.hostname
			return nil
		}
		if err := s.stop(ctx, ep); err != nil {
			return err
		}
	}
	return s.start(ctx, ep, dbinfo)
}

// start launches an instance serving dbinfo. A failed start is retried once after a stop.
func (s *LoaderService) start(ctx context.Context, ep Endpoint, dbinfo *DBInfo) error {
	if s.live != nil {
		panic(fmt.Sprintf("fuseki: cannot start %s while %s is running", dbinfo.InstanceID(), s.live.id))
	}
	if ep.Start == "" || ep.Stop == "" {
		return exception.NewETLErrorf(s.Name, exception.ErrInvalidConfig, "endpoint.start and endpoint.stop are required to serve %s", dbinfo.Dir)
	}

	id := dbinfo.InstanceID()
	port, err := s.findPort(s.startPort)
	if err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrServiceLifecycle, "failed to find a port for %s", id, err)
	}
	startCmd := shell.Format(model.ResolveRefs(ep.Start, s.Dirs), map[string]string{
		"ID":     shell.Quote(id),
		"PORT":   strconv.Itoa(port),
		"DB_DIR": shell.Quote(dbinfo.Dir),
	})
	if _, err := s.Shell.Run(ctx, startCmd); err != nil {
		logger.Warnf("[%s] failed to start %s, stopping it and retrying once: %v", s.Name, id, err)
		if _, err := s.Shell.Run(ctx, s.stopCommand(ep, id)); err != nil {
			return exception.NewETLErrorf(s.Name, exception.ErrServiceLifecycle, "failed to stop %s after a failed start", id, err)
		}
		if _, err := s.Shell.Run(ctx, startCmd); err != nil {
			return exception.NewETLErrorf(s.Name, exception.ErrServiceLifecycle, "failed to start %s", id, err)
		}
	}

	s.live = &liveInstance{
		id:       id,
		port:     port,
		dir:      dbinfo.Dir,
		hostname: fmt.Sprintf("%s:%d", s.hostname, port),
	}
	dbinfo.Hostname = s.live.hostname
	logger.Infof("[%s] started %s at %s serving %s", s.Name, id, dbinfo.Hostname, dbinfo.Dir)
	return nil
}

// stop stops the instance this loader started.
func (s *LoaderService) stop(ctx context.Context, ep Endpoint) error {
	if s.live == nil {
		panic("fuseki: no instance started by this loader")
	}
	inst := s.live
	if _, err := s.Shell.Run(ctx, s.stopCommand(ep, inst.id)); err != nil {
		return exception.NewETLErrorf(s.Name, exception.ErrServiceLifecycle, "failed to stop %s", inst.id, err)
	}
	s.live = nil
	logger.Infof("[%s] stopped %s serving %s", s.Name, inst.id, inst.dir)
	return nil
}

func (s *LoaderService) stopCommand(ep Endpoint, id string) string {
	return shell.Format(model.ResolveRefs(ep.Stop, s.Dirs), map[string]string{"ID": shell.Quote(id)})
}
