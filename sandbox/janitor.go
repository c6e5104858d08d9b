package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultGracePeriod is how old a leftover workspace or container must be
// before the janitor removes it. It is well above any execution timeout.
const DefaultGracePeriod = 10 * time.Minute

// Janitor removes state leaked by processes that died mid-execution:
// workspace directories under the scratch root and exited managed containers.
// Run removes its own state, so in a healthy process the janitor finds
// nothing.
type Janitor struct {
	logger   *zap.Logger
	root     string
	fs       FileSystem
	sweeper  ContainerSweeper
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
}

// JanitorOption defines a functional option for Janitor
type JanitorOption func(*Janitor)

// WithJanitorFileSystem sets the FileSystem for Janitor
func WithJanitorFileSystem(fs FileSystem) JanitorOption {
	return func(j *Janitor) {
		j.fs = fs
	}
}

// WithGracePeriod sets the minimum age of swept leftovers.
func WithGracePeriod(grace time.Duration) JanitorOption {
	return func(j *Janitor) {
		j.grace = grace
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) {
		j.now = now
	}
}

// NewJanitor creates a Janitor for the scratch root. sweeper may be nil when
// the runtime leaves no containers behind.
func NewJanitor(logger *zap.Logger, root string, sweeper ContainerSweeper, interval time.Duration, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		logger:   logger,
		root:     root,
		fs:       &RealFileSystem{},
		sweeper:  sweeper,
		interval: interval,
		grace:    DefaultGracePeriod,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// SweepReport counts what one sweep removed.
type SweepReport struct {
	Workspaces int
	Containers int
}

// Sweep runs one pass over the scratch root and the container engine.
func (j *Janitor) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	dirs, dirErr := j.sweepWorkspaces()
	report.Workspaces = dirs

	var containerErr error
	if j.sweeper != nil {
		report.Containers, containerErr = j.sweeper.SweepContainers(ctx, j.grace)
	}

	return report, errors.Join(dirErr, containerErr)
}

// sweepWorkspaces only touches directories named like workspace ids, so a
// misconfigured scratch root cannot lose unrelated files.
func (j *Janitor) sweepWorkspaces() (int, error) {
	entries, err := j.fs.ReadDir(j.root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read scratch root: %w", err)
	}

	cutoff := j.now().Add(-j.grace)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(j.root, entry.Name())
		if err := j.fs.RemoveAll(path); err != nil {
			j.logger.Warn("failed to remove stale workspace", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// Run sweeps once immediately and then on every interval until ctx is done.
// A non-positive interval disables the periodic sweeps.
func (j *Janitor) Run(ctx context.Context) {
	j.sweepAndLog(ctx)
	if j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweepAndLog(ctx)
		}
	}
}

func (j *Janitor) sweepAndLog(ctx context.Context) {
	report, err := j.Sweep(ctx)
	if err != nil {
		j.logger.Warn("janitor sweep incomplete", zap.Error(err))
	}
	if report.Workspaces > 0 || report.Containers > 0 {
		j.logger.Info("janitor removed leftovers",
			zap.Int("workspaces", report.Workspaces),
			zap.Int("containers", report.Containers))
	}
}
