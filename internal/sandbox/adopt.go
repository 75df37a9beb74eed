package sandbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/events"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// AdoptOrphans reconciles labeled containers left behind by a previous
// supervisor run. A running container whose project still exists is adopted
// into the container index; everything else carrying the sandbox label is
// removed. Output follows from "now" — history before adoption lives only
// in the app.log file.
func (s *Supervisor) AdoptOrphans(ctx context.Context) (adopted, removed int, err error) {
	if s.docker == nil {
		return 0, 0, nil
	}

	found, err := s.docker.ListSandboxContainers(ctx)
	if err != nil {
		return 0, 0, errors.External("listing sandbox containers", err)
	}

	for _, ctr := range found {
		if ctr.ProjectID == "" {
			s.removeOrphan(ctx, ctr, "missing project label")
			removed++
			continue
		}

		proj, rerr := s.projects.Resolve(ctx, ctr.ProjectID)
		if rerr != nil {
			if errors.IsNotFound(rerr) {
				s.removeOrphan(ctx, ctr, "project no longer exists")
				removed++
				continue
			}
			s.logger.Warn("skipping orphan, project lookup failed",
				zap.String("container_id", ctr.ID),
				zap.String("project_id", ctr.ProjectID),
				zap.Error(rerr),
			)
			continue
		}

		if !ctr.Running() {
			s.removeOrphan(ctx, ctr, "container not running")
			removed++
			continue
		}

		if s.adoptOne(ctx, ctr, proj) {
			adopted++
		} else {
			s.removeOrphan(ctx, ctr, "project already has an active sandbox")
			removed++
		}
	}

	if adopted > 0 || removed > 0 {
		s.logger.Info("orphan reconciliation finished",
			zap.Int("adopted", adopted),
			zap.Int("removed", removed),
		)
	}
	return adopted, removed, nil
}

// adoptOne indexes a running orphan as this supervisor's sandbox for the
// project. Returns false when the project already has an active entry.
func (s *Supervisor) adoptOne(ctx context.Context, ctr AdoptableContainer, proj *v1.Project) bool {
	mu := s.projectMu(proj.ID)
	mu.Lock()
	defer mu.Unlock()

	if existing := s.lookup(proj.ID); existing != nil && existing.state().Active() {
		return false
	}

	logFile, err := s.openLogFile(proj.ID)
	if err != nil {
		s.logger.Warn("cannot open log file for adopted sandbox",
			zap.String("project_id", proj.ID),
			zap.Error(err),
		)
		return false
	}

	sb := &sandbox{
		info: v1.SandboxInfo{
			ID:           uuid.New().String(),
			ProjectID:    proj.ID,
			Backend:      v1.BackendContainer,
			Image:        ctr.Image,
			HostPort:     ctr.HostPort,
			InternalPort: s.cfg.InternalPort,
			State:        v1.SandboxRunning,
			StartedAt:    time.Now().UTC(),
			LogFile:      s.logFilePath(proj.ID),
		},
		ring:        newLogRing(0),
		logFile:     logFile,
		workDir:     proj.LocalPath,
		containerID: ctr.ID,
	}
	s.index(sb)
	s.followContainer(sb)

	s.logger.Info("adopted orphaned sandbox container",
		zap.String("project_id", proj.ID),
		zap.String("container_id", ctr.ID),
		zap.Int("host_port", ctr.HostPort),
	)
	s.publishEvent(ctx, events.SandboxAdopted, sb)
	return true
}

func (s *Supervisor) removeOrphan(ctx context.Context, ctr AdoptableContainer, reason string) {
	s.logger.Info("removing orphaned sandbox container",
		zap.String("container_id", ctr.ID),
		zap.String("project_id", ctr.ProjectID),
		zap.String("reason", reason),
	)
	if err := s.docker.Remove(ctx, ctr.ID, true); err != nil {
		s.logger.Warn("failed to remove orphaned container",
			zap.String("container_id", ctr.ID),
			zap.Error(err),
		)
	}
}
