package sandbox

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Workspace is the per-execution scratch directory holding the source and
// input files. It is owned by exactly one execution.
type Workspace struct {
	ID         string
	Dir        string
	SourcePath string
	InputPath  string
	Mode       MountMode

	created bool
}

// Provisioner creates and removes workspaces under a scratch root.
type Provisioner struct {
	logger *zap.Logger
	root   string
	fs     FileSystem
}

// ProvisionerOption defines a functional option for Provisioner
type ProvisionerOption func(*Provisioner)

// WithProvisionerFileSystem sets the FileSystem for Provisioner
func WithProvisionerFileSystem(fs FileSystem) ProvisionerOption {
	return func(p *Provisioner) {
		p.fs = fs
	}
}

// NewProvisioner creates a Provisioner rooted at root, which must be an
// absolute path outside the service's own tree.
func NewProvisioner(logger *zap.Logger, root string, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		logger: logger,
		root:   root,
		fs:     &RealFileSystem{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provision creates the workspace directory for id and writes the source and
// input files. When a write fails the returned workspace is still non-nil so
// the caller can release the partially created directory.
func (p *Provisioner) Provision(id string, spec LanguageSpec, source, stdin string) (*Workspace, error) {
	ws := &Workspace{
		ID:         id,
		Dir:        filepath.Join(p.root, id),
		SourcePath: filepath.Join(p.root, id, spec.SourceFile),
		InputPath:  filepath.Join(p.root, id, InputFileName),
		Mode:       spec.MountMode,
	}

	if err := p.fs.MkdirAll(p.root, RootPermission); err != nil {
		return ws, fmt.Errorf("failed to create scratch root: %w", err)
	}

	// Mkdir, not MkdirAll: an existing directory means the id collided and the
	// directory belongs to someone else.
	if err := p.fs.Mkdir(ws.Dir, ReadOnlyDirPerm); err != nil {
		return ws, fmt.Errorf("failed to create workspace %s: %w", id, err)
	}
	ws.created = true

	if spec.MountMode == ReadWrite {
		// The container user writes build artifacts next to the source.
		if err := p.fs.Chmod(ws.Dir, ReadWriteDirPerm); err != nil {
			return ws, fmt.Errorf("failed to make workspace writable: %w", err)
		}
	}

	if err := p.WriteSource(ws, source); err != nil {
		return ws, err
	}
	if err := p.fs.WriteFile(ws.InputPath, []byte(stdin), FilePermission); err != nil {
		return ws, fmt.Errorf("failed to write input file: %w", err)
	}

	return ws, nil
}

// WriteSource replaces the workspace's source file. Go strings are written
// verbatim, so the file is UTF-8 whenever the submission is.
func (p *Provisioner) WriteSource(ws *Workspace, source string) error {
	if err := p.fs.WriteFile(ws.SourcePath, []byte(source), FilePermission); err != nil {
		return fmt.Errorf("failed to write source file: %w", err)
	}
	return nil
}

// Release removes the workspace directory. It is idempotent and a no-op for a
// workspace whose directory was never created.
func (p *Provisioner) Release(ws *Workspace) error {
	if ws == nil || !ws.created {
		return nil
	}
	if err := p.fs.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", ws.ID, err)
	}
	return nil
}

// With provisions a workspace, calls fn with it and releases it afterwards.
// Release runs on every exit path, including a failed provision and a panic
// in fn. A failed release is logged, not returned.
func (p *Provisioner) With(id string, spec LanguageSpec, source, stdin string, fn func(*Workspace) error) error {
	var ws *Workspace
	defer func() {
		if rmErr := p.Release(ws); rmErr != nil {
			p.logger.Error("failed to remove workspace", zap.String("workspace", id), zap.Error(rmErr))
		}
	}()

	var err error
	ws, err = p.Provision(id, spec, source, stdin)
	if err != nil {
		return err
	}
	return fn(ws)
}
