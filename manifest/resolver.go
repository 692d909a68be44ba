package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tliron/commonlog"
)

// ResolvedDep represents a dependency that has been resolved to a local path.
type ResolvedDep struct {
	Name      string    // dependency name
	LocalPath string    // local filesystem path
	Manifest  *Manifest // the dependency's own manifest (may be nil)
}

// LibPaths returns the library roots the dependency contributes: its own
// include paths when it has a manifest, otherwise its root directory.
func (d ResolvedDep) LibPaths() []string {
	if d.Manifest != nil {
		return d.Manifest.IncludePaths()
	}
	return []string{d.LocalPath}
}

// Resolver manages dependency resolution.
type Resolver struct {
	manifest *Manifest
	lock     *LockFile
	log      commonlog.Logger
}

// NewResolver creates a new dependency resolver.
func NewResolver(m *Manifest) *Resolver {
	return &Resolver{
		manifest: m,
		log:      commonlog.GetLogger("stck.manifest"),
	}
}

// Resolve resolves all dependencies and returns them in load order
// (topologically sorted: dependencies before dependents). A project
// without dependencies touches nothing on disk.
func (r *Resolver) Resolve(ctx context.Context) ([]ResolvedDep, error) {
	if len(r.manifest.Dependencies) == 0 {
		return nil, nil
	}

	// Read existing lock file
	lock, err := ReadLock(r.manifest.LockFilePath())
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	r.lock = lock

	resolved := make(map[string]*ResolvedDep)
	visiting := make(map[string]bool)
	order, err := r.resolveAll(ctx, r.manifest, resolved, visiting)
	if err != nil {
		return nil, err
	}

	if err := r.writeLock(ctx, resolved); err != nil {
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	return order, nil
}

// LibPaths resolves the dependencies and returns the project's library
// roots followed by the roots of every dependency.
func (r *Resolver) LibPaths(ctx context.Context) ([]string, error) {
	deps, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	paths := r.manifest.IncludePaths()
	for _, d := range deps {
		paths = append(paths, d.LibPaths()...)
	}
	return paths, nil
}

// resolveAll resolves the dependencies of owner recursively. Names are
// visited in sorted order so the result is deterministic.
func (r *Resolver) resolveAll(ctx context.Context, owner *Manifest, resolved map[string]*ResolvedDep, visiting map[string]bool) ([]ResolvedDep, error) {
	names := make([]string, 0, len(owner.Dependencies))
	for name := range owner.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	var order []ResolvedDep
	for _, name := range names {
		if visiting[name] {
			return nil, fmt.Errorf("dependency cycle through %q", name)
		}
		if _, ok := resolved[name]; ok {
			continue // already resolved
		}

		rd, err := r.resolveOne(ctx, owner, name, owner.Dependencies[name])
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", name, err)
		}

		// Transitive dependencies come first.
		if rd.Manifest != nil && len(rd.Manifest.Dependencies) > 0 {
			visiting[name] = true
			transitive, err := r.resolveAll(ctx, rd.Manifest, resolved, visiting)
			delete(visiting, name)
			if err != nil {
				return nil, err
			}
			order = append(order, transitive...)
		}

		resolved[name] = rd
		order = append(order, *rd)
	}

	return order, nil
}

// resolveOne resolves a single dependency declared by owner.
func (r *Resolver) resolveOne(ctx context.Context, owner *Manifest, name string, dep Dependency) (*ResolvedDep, error) {
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid dependency name %q", name)
	}

	switch {
	case dep.Path != "":
		localPath, err := filepath.Abs(owner.resolve(dep.Path))
		if err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", dep.Path, err)
		}
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("local dependency %q not found at %s: %w", name, localPath, err)
		}
		return r.loaded(name, localPath), nil

	case dep.Git != "":
		depDir := filepath.Join(r.manifest.DepsDir(), name)

		if _, err := os.Stat(depDir); os.IsNotExist(err) {
			r.log.Infof("cloning %s from %s", name, dep.Git)
			if err := os.MkdirAll(r.manifest.DepsDir(), 0755); err != nil {
				return nil, fmt.Errorf("creating deps dir: %w", err)
			}
			if err := gitClone(ctx, dep.Git, depDir); err != nil {
				return nil, err
			}
		} else if locked := r.lock.FindLockedDep(name); locked == nil || locked.Tag != dep.Tag {
			r.log.Infof("fetching %s", name)
			if err := gitFetch(ctx, depDir); err != nil {
				return nil, err
			}
		}

		if dep.Tag != "" {
			if err := gitCheckout(ctx, depDir, dep.Tag); err != nil {
				return nil, err
			}
		}
		return r.loaded(name, depDir), nil
	}

	return nil, fmt.Errorf("dependency %q has no git or path specified", name)
}

// loaded builds a ResolvedDep, picking up the dependency's own manifest
// when it has one.
func (r *Resolver) loaded(name, dir string) *ResolvedDep {
	rd := &ResolvedDep{Name: name, LocalPath: dir}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
		m, err := Load(dir)
		if err != nil {
			r.log.Warningf("ignoring manifest of %s: %s", name, err)
		} else {
			rd.Manifest = m
		}
	}
	return rd
}

// writeLock writes the resolved dependencies to the lock file.
func (r *Resolver) writeLock(ctx context.Context, resolved map[string]*ResolvedDep) error {
	lf := &LockFile{}

	for _, rd := range resolved {
		ld := LockedDep{Name: rd.Name}

		dep := r.manifest.Dependencies[rd.Name]
		switch {
		case dep.Git != "":
			ld.Git = dep.Git
			ld.Tag = dep.Tag
			if commit, err := gitCurrentCommit(ctx, rd.LocalPath); err == nil {
				ld.Commit = commit
			}
		case dep.Path != "":
			ld.Path = dep.Path
		default:
			// Transitive dependency: record where it was found.
			ld.Path = rd.LocalPath
		}

		lf.Deps = append(lf.Deps, ld)
	}

	lockDir := filepath.Dir(r.manifest.LockFilePath())
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return err
	}

	return WriteLock(r.manifest.LockFilePath(), lf)
}
