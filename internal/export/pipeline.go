package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tgmirror/tgmirror/internal/database"
)

// Renderer reads the message store and produces export artifacts. It only
// ever reads; artifacts are derived state that can always be rebuilt.
type Renderer struct {
	store  database.Store
	logger *slog.Logger
}

// NewRenderer creates an export renderer.
func NewRenderer(store database.Store, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		store:  store,
		logger: logger.With("component", "export"),
	}
}

// RenderCSV writes the CSV export for one scope (or all scopes when scope
// is nil) to w.
func (r *Renderer) RenderCSV(ctx context.Context, scope *database.Scope, opts Options, w io.Writer) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	messages, err := r.store.SelectExport(ctx, database.ExportQuery{
		Scope:          scope,
		IncludeDeleted: opts.IncludeDeleted,
		IncludeService: opts.IncludeService,
	})
	if err != nil {
		return fmt.Errorf("failed to read messages for CSV export: %w", err)
	}
	return writeCSV(w, messages, opts)
}

// RenderJSONL writes the JSONL export for one scope (or all scopes when
// scope is nil) to w.
func (r *Renderer) RenderJSONL(ctx context.Context, scope *database.Scope, opts Options, w io.Writer) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	messages, err := r.store.SelectExport(ctx, database.ExportQuery{
		Scope:          scope,
		IncludeDeleted: opts.IncludeDeleted,
		IncludeService: opts.IncludeService,
	})
	if err != nil {
		return fmt.Errorf("failed to read messages for JSONL export: %w", err)
	}
	return writeJSONL(w, messages, opts)
}

// WriteCSVFile renders the CSV export to path, replacing any previous
// artifact atomically.
func (r *Renderer) WriteCSVFile(ctx context.Context, scope *database.Scope, opts Options, path string) error {
	return r.writeFile(ctx, path, func(w io.Writer) error {
		return r.RenderCSV(ctx, scope, opts, w)
	})
}

// WriteJSONLFile renders the JSONL export to path, replacing any previous
// artifact atomically.
func (r *Renderer) WriteJSONLFile(ctx context.Context, scope *database.Scope, opts Options, path string) error {
	return r.writeFile(ctx, path, func(w io.Writer) error {
		return r.RenderJSONL(ctx, scope, opts, w)
	})
}

// FileSet binds a renderer to the configured on-disk artifact paths so
// callers can regenerate everything after a run that changed data.
type FileSet struct {
	renderer *Renderer

	csvPath   string
	jsonlPath string
	csvOpts   Options
	jsonlOpts Options
}

// NewFileSet creates a file set covering all configured scopes. An empty
// path disables the corresponding artifact.
func NewFileSet(renderer *Renderer, csvPath string, csvOpts Options, jsonlPath string, jsonlOpts Options) *FileSet {
	return &FileSet{
		renderer:  renderer,
		csvPath:   csvPath,
		csvOpts:   csvOpts,
		jsonlPath: jsonlPath,
		jsonlOpts: jsonlOpts,
	}
}

// Rebuild regenerates every configured artifact from the current store
// contents.
func (fs *FileSet) Rebuild(ctx context.Context) error {
	if fs.csvPath != "" {
		if err := fs.renderer.WriteCSVFile(ctx, nil, fs.csvOpts, fs.csvPath); err != nil {
			return fmt.Errorf("failed to rebuild CSV export: %w", err)
		}
	}
	if fs.jsonlPath != "" {
		if err := fs.renderer.WriteJSONLFile(ctx, nil, fs.jsonlOpts, fs.jsonlPath); err != nil {
			return fmt.Errorf("failed to rebuild JSONL export: %w", err)
		}
	}
	return nil
}

// writeFile renders into a temporary sibling and renames it over the
// target, so a crash mid-render never leaves a truncated artifact.
func (r *Renderer) writeFile(ctx context.Context, path string, render func(io.Writer) error) error {
	startTime := time.Now()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary export file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if err := render(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary export file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace export file %s: %w", path, err)
	}
	tmpName = ""

	r.logger.InfoContext(ctx, "Export artifact written", "path", path, "duration", time.Since(startTime))
	return nil
}
