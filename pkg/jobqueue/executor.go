package jobqueue

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Executor carries out a job's action.
type Executor interface {
	Execute(ctx context.Context, kind ActionKind, target string) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, kind ActionKind, target string) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, kind ActionKind, target string) error {
	return f(ctx, kind, target)
}

type (
	// ProcedureFunc is a zero-argument procedure invoked for ActionProcedure jobs.
	ProcedureFunc func(ctx context.Context) error

	// Runner is the entry point of a type registered for ActionInstance jobs.
	Runner interface {
		Run(ctx context.Context) error
	}

	// RunnerFactory builds a fresh Runner for every execution.
	RunnerFactory func() Runner

	// ScriptRunner runs the external script at path for ActionScript jobs.
	ScriptRunner interface {
		RunScript(ctx context.Context, path string) error
	}
)

// Registry is an Executor backed by explicit registrations populated at
// startup. Procedures and types are looked up by name; scripts are delegated
// to a ScriptRunner. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	procedures map[string]ProcedureFunc
	types      map[string]RunnerFactory
	scripts    ScriptRunner
}

// NewRegistry creates an empty registry. Scripts run through a CommandRunner
// with default settings unless WithScriptRunner is given.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		procedures: make(map[string]ProcedureFunc),
		types:      make(map[string]RunnerFactory),
		scripts:    NewCommandRunner(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithScriptRunner replaces the runner used for ActionScript jobs.
func WithScriptRunner(sr ScriptRunner) RegistryOption {
	return func(r *Registry) {
		if sr != nil {
			r.scripts = sr
		}
	}
}

// RegisterProcedure registers fn under name for ActionProcedure jobs.
func (r *Registry) RegisterProcedure(name string, fn ProcedureFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("procedure name and function are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.procedures[name]; exists {
		return fmt.Errorf("procedure %q: %w", name, ErrAlreadyRegistered)
	}
	r.procedures[name] = fn
	return nil
}

// RegisterType registers factory under name for ActionInstance jobs.
func (r *Registry) RegisterType(name string, factory RunnerFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("type name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[name]; exists {
		return fmt.Errorf("type %q: %w", name, ErrAlreadyRegistered)
	}
	r.types[name] = factory
	return nil
}

// Has reports whether target can be resolved for kind.
// Script targets are always considered resolvable.
func (r *Registry) Has(kind ActionKind, target string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch kind {
	case ActionProcedure:
		_, ok := r.procedures[target]
		return ok
	case ActionInstance:
		_, ok := r.types[target]
		return ok
	case ActionScript:
		return true
	}
	return false
}

// Names returns the registered procedure and type names.
func (r *Registry) Names() (procedures, types []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name := range r.procedures {
		procedures = append(procedures, name)
	}
	for name := range r.types {
		types = append(types, name)
	}
	return procedures, types
}

// Execute implements Executor.
func (r *Registry) Execute(ctx context.Context, kind ActionKind, target string) error {
	switch kind {
	case ActionProcedure:
		r.mu.RLock()
		fn, ok := r.procedures[target]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("procedure %q: %w", target, ErrHandlerNotFound)
		}
		return fn(ctx)

	case ActionInstance:
		r.mu.RLock()
		factory, ok := r.types[target]
		r.mu.RUnlock()
		if !ok {
			return fmt.Errorf("type %q: %w", target, ErrHandlerNotFound)
		}
		instance := factory()
		if instance == nil {
			return fmt.Errorf("type %q: factory returned nil", target)
		}
		return instance.Run(ctx)

	case ActionScript:
		return r.scripts.RunScript(ctx, target)
	}

	return newValidationError("action_type", fmt.Sprintf("unknown action type %d", int(kind)))
}

// CommandRunner runs scripts as child processes.
type CommandRunner struct {
	baseDir      string
	interpreters map[string][]string
	env          []string
}

// CommandRunnerOption configures a CommandRunner.
type CommandRunnerOption func(*CommandRunner)

// WithBaseDir resolves relative script paths against dir and rejects paths outside it.
func WithBaseDir(dir string) CommandRunnerOption {
	return func(c *CommandRunner) {
		if dir != "" {
			c.baseDir = filepath.Clean(dir)
		}
	}
}

// WithInterpreter runs files with the given extension through command,
// e.g. WithInterpreter(".php", "php") or WithInterpreter(".py", "python3", "-u").
func WithInterpreter(ext string, command ...string) CommandRunnerOption {
	return func(c *CommandRunner) {
		if ext != "" && len(command) > 0 {
			c.interpreters[strings.ToLower(ext)] = command
		}
	}
}

// WithEnv appends KEY=VALUE pairs to the child environment.
func WithEnv(env ...string) CommandRunnerOption {
	return func(c *CommandRunner) {
		c.env = append(c.env, env...)
	}
}

// NewCommandRunner creates a CommandRunner. Without interpreters the script
// itself must be executable.
func NewCommandRunner(opts ...CommandRunnerOption) *CommandRunner {
	c := &CommandRunner{interpreters: make(map[string][]string)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunScript implements ScriptRunner. A non-zero exit status is an error that
// includes the tail of the combined output.
func (c *CommandRunner) RunScript(ctx context.Context, path string) error {
	resolved, err := c.resolve(path)
	if err != nil {
		return err
	}

	name, args := resolved, []string(nil)
	if interp, ok := c.interpreters[strings.ToLower(filepath.Ext(resolved))]; ok {
		name, args = interp[0], append(append([]string(nil), interp[1:]...), resolved)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if len(c.env) > 0 {
		cmd.Env = append(cmd.Environ(), c.env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("script %q: %w: %s", path, err, tail(out, 512))
	}
	return nil
}

func (c *CommandRunner) resolve(path string) (string, error) {
	if c.baseDir == "" {
		// exec would otherwise search PATH for a bare file name
		if !filepath.IsAbs(path) && !strings.ContainsRune(path, filepath.Separator) {
			return "." + string(filepath.Separator) + path, nil
		}
		return path, nil
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(c.baseDir, resolved)
	}
	resolved = filepath.Clean(resolved)
	rel, err := filepath.Rel(c.baseDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("script %q: %w", path, ErrScriptOutsideBaseDir)
	}
	return resolved, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
