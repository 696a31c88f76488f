package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver for the cache database

	"colony/pkg/config"
	colonyexec "colony/pkg/exec"
	"colony/pkg/logx"
)

// Engine owns the state/ directory and the cache database. All writes are
// whole-file JSONL rewrites followed by an optional git commit; all reads
// go through a staleness check against the cache.
type Engine struct {
	stateDir string
	cfg      config.SharedStateConfig
	db       *sql.DB
	exec     colonyexec.Executor
	logger   *logx.Logger
	mu       sync.Mutex // serializes writes; the cache DB has a single writer
}

// New opens (and on first use initializes) the shared-state engine for a
// colony rooted at rootDir. The cache database lives at
// rootDir/.colony/cache/state.db regardless of where the state files live.
func New(rootDir string, cfg config.SharedStateConfig) (*Engine, error) {
	stateDir := cfg.Path
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(rootDir, stateDir)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	cacheDir := filepath.Join(rootDir, config.ColonyDirName, "cache")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dbPath := filepath.Join(cacheDir, "state.db")
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000", dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}
	if _, err := db.Exec(cacheDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	// SQLite supports one writer; funnel everything through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	e := &Engine{
		stateDir: stateDir,
		cfg:      cfg,
		db:       db,
		exec:     colonyexec.NewLocalExec(),
		logger:   logx.NewLogger("state"),
	}

	if e.gitBacked() {
		if err := e.initGit(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return e, nil
}

// WithExecutor overrides the command runner, for tests.
func (e *Engine) WithExecutor(x colonyexec.Executor) *Engine {
	e.exec = x
	return e
}

// Close closes the cache database.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Dir returns the state directory.
func (e *Engine) Dir() string { return e.stateDir }

// Sync refreshes the cache for every schema. The per-read staleness check
// makes this optional; it exists so the CLI can force a refresh after an
// out-of-band git pull.
func (e *Engine) Sync(ctx context.Context) error {
	for _, schema := range allSchemas {
		if err := e.syncSchema(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) gitBacked() bool {
	return e.cfg.Backend != "memory"
}

func (e *Engine) jsonlPath(schema string) string {
	return filepath.Join(e.stateDir, schema+".jsonl")
}

// --- git plumbing -----------------------------------------------------------

func (e *Engine) git(ctx context.Context, args ...string) (colonyexec.Result, error) {
	cmd := append([]string{"git"}, args...)
	result, err := e.exec.Run(ctx, cmd, colonyexec.Opts{WorkDir: e.stateDir})
	if err != nil {
		return result, &GitError{Op: args[0], Err: err}
	}
	return result, nil
}

// initGit makes state/ a git repository with an initial commit, and wires
// the configured remote if one is declared. Never force-pushes, never
// rewrites history.
func (e *Engine) initGit(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(e.stateDir, ".git")); os.IsNotExist(err) {
		result, gitErr := e.git(ctx, "init", "-b", e.cfg.Branch)
		if gitErr != nil {
			return gitErr
		}
		if result.ExitCode != 0 {
			return &GitError{Op: "init", Stderr: result.Stderr}
		}
		// Identity may be unset in fresh environments; commits need one.
		_, _ = e.git(ctx, "config", "user.email", "colony@localhost")
		_, _ = e.git(ctx, "config", "user.name", "colony")
		if result, _ = e.git(ctx, "commit", "--allow-empty", "-m", "initialize shared state"); result.ExitCode != 0 {
			return &GitError{Op: "commit", Stderr: result.Stderr}
		}
		e.logger.Info("initialized shared-state repository at %s", e.stateDir)
	}

	if e.cfg.Repository != "" {
		result, err := e.git(ctx, "remote", "get-url", "origin")
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			if result, _ = e.git(ctx, "remote", "add", "origin", e.cfg.Repository); result.ExitCode != 0 {
				return &GitError{Op: "remote add", Stderr: result.Stderr}
			}
		}
	}
	return nil
}

// commitSchema stages and commits one schema file. Called after every
// successful rewrite when auto-commit is on.
func (e *Engine) commitSchema(ctx context.Context, schema string) {
	if !e.gitBacked() || !e.cfg.AutoCommit {
		return
	}

	if result, _ := e.git(ctx, "add", schema+".jsonl"); result.ExitCode != 0 {
		e.logger.Warn("git add failed for %s: %s", schema, result.Stderr)
		return
	}

	message := strings.ReplaceAll(e.cfg.CommitMessage, "{schema}", schema)
	result, _ := e.git(ctx, "commit", "-m", message)
	if result.ExitCode != 0 {
		// Nothing to commit is normal when a rewrite produced identical bytes.
		if !strings.Contains(result.Stdout+result.Stderr, "nothing to commit") {
			e.logger.Warn("git commit failed for %s: %s", schema, result.Stderr)
		}
		return
	}

	if e.cfg.AutoPush {
		if result, _ := e.git(ctx, "push", "origin", e.cfg.Branch); result.ExitCode != 0 {
			// Network failures are expected offline; the commit is safe locally.
			e.logger.Warn("git push failed: %s", strings.TrimSpace(result.Stderr))
		}
	}
}

// Pull fetches the configured branch from the remote. Failures are
// warnings: shared state keeps working from the local copy.
func (e *Engine) Pull(ctx context.Context) error {
	if !e.gitBacked() || e.cfg.Repository == "" {
		return nil
	}
	result, err := e.git(ctx, "pull", "origin", e.cfg.Branch)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		e.logger.Warn("git pull failed: %s", strings.TrimSpace(result.Stderr))
	}
	return nil
}

// Push pushes the configured branch to the remote.
func (e *Engine) Push(ctx context.Context) error {
	if !e.gitBacked() || e.cfg.Repository == "" {
		return nil
	}
	result, err := e.git(ctx, "push", "origin", e.cfg.Branch)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return &GitError{Op: "push", Stderr: result.Stderr}
	}
	return nil
}
