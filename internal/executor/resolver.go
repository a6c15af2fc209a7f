package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultInterpreter runs .py generators.
const DefaultInterpreter = "python3"

var productName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Resolver maps generator references to invocations. References are paths
// relative to a single generators directory and may not escape it.
type Resolver struct {
	dir         string
	interpreter string
}

// NewResolver creates a Resolver rooted at dir.
func NewResolver(dir, interpreter string) (*Resolver, error) {
	if dir == "" {
		return nil, fmt.Errorf("generators directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve generators directory: %w", err)
	}
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	return &Resolver{dir: abs, interpreter: interpreter}, nil
}

// Dir returns the absolute generators directory.
func (r *Resolver) Dir() string { return r.dir }

// Interpreter returns the program used for .py generators.
func (r *Resolver) Interpreter() string { return r.interpreter }

// Resolve turns a relative generator path into an Invocation with args
// appended after the script.
func (r *Resolver) Resolve(ref string, args ...string) (Invocation, error) {
	path, err := r.locate(ref)
	if err != nil {
		return Invocation{}, err
	}
	return r.invocation(path, args), nil
}

// ResolveProduct finds the generator for a product name: <name>, <name>.py or
// <name>.sh in the generators directory or one of its immediate
// subdirectories.
func (r *Resolver) ResolveProduct(product string, args ...string) (Invocation, error) {
	if !productName.MatchString(product) || strings.Contains(product, "..") {
		return Invocation{}, fmt.Errorf("%w: product %q", ErrInvalidGenerator, product)
	}
	for _, pattern := range []string{"%s", "%s.py", "%s.sh", "*/%s.py", "*/%s.sh"} {
		matches, err := filepath.Glob(filepath.Join(r.dir, fmt.Sprintf(pattern, product)))
		if err != nil {
			continue
		}
		for _, m := range matches {
			rel, err := filepath.Rel(r.dir, m)
			if err != nil {
				continue
			}
			if path, err := r.locate(rel); err == nil {
				return r.invocation(path, args), nil
			}
		}
	}
	return Invocation{}, fmt.Errorf("%w: no generator for product %q", ErrInvalidGenerator, product)
}

func (r *Resolver) invocation(path string, args []string) Invocation {
	if strings.EqualFold(filepath.Ext(path), ".py") {
		return Invocation{
			Program: r.interpreter,
			Args:    append([]string{path}, args...),
			Dir:     r.dir,
		}
	}
	return Invocation{Program: path, Args: append([]string(nil), args...), Dir: r.dir}
}

// locate returns the absolute path of ref after checking it is a regular file
// inside the generators directory, symlinks included.
func (r *Resolver) locate(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || filepath.IsAbs(ref) {
		return "", ErrInvalidGenerator
	}
	path := filepath.Join(r.dir, ref)
	if !within(r.dir, path) {
		return "", ErrInvalidGenerator
	}

	realDir, err := filepath.EvalSymlinks(r.dir)
	if err != nil {
		return "", fmt.Errorf("%w: generators directory unavailable", ErrInvalidGenerator)
	}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil || !within(realDir, realPath) {
		return "", ErrInvalidGenerator
	}
	info, err := os.Stat(realPath)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrInvalidGenerator
	}
	return path, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
