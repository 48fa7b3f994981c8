// Package importer reconciles markdown card sources with the store.
//
// Every entry found under a source is fingerprinted. Unknown fingerprints
// become new cards; cards of the source whose fingerprint no longer appears
// are archived, keeping their history.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/clock"
	"github.com/conorfennell/topnote/internal/fingerprint"
	"github.com/conorfennell/topnote/internal/gitsource"
	"github.com/conorfennell/topnote/internal/parser"
	"github.com/conorfennell/topnote/internal/storage"
	"github.com/google/uuid"
)

// Store is the persistence the importer needs.
type Store interface {
	InsertSource(ctx context.Context, path, sourceType string) (int64, error)
	FindSourceByPath(ctx context.Context, path string) (*storage.Source, error)
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error
	GetCardsBySourceID(ctx context.Context, sourceID int64) ([]storage.SourcedCard, error)
	GetCardByFingerprint(ctx context.Context, fingerprint string) (*card.Card, error)
	InsertSourcedCard(ctx context.Context, c *card.Card, sourceID int64) error
	UpdateCard(ctx context.Context, id uuid.UUID, fn func(*card.Card) error) (*card.Card, error)
	EnsureFolder(ctx context.Context, name string) (*card.Folder, error)
}

// Notifier receives a refresh request after an import changed the store.
type Notifier interface {
	RequestRefresh() bool
}

// GitSyncFunc brings a checkout of a remote repository up to date.
type GitSyncFunc func(ctx context.Context, repoURL, localPath string, logger *slog.Logger) error

// Importer scans sources and reconciles their cards.
type Importer struct {
	store    Store
	clock    clock.Clock
	notifier Notifier
	logger   *slog.Logger
	reposDir string
	gitSync  GitSyncFunc
}

// New creates an importer that keeps git checkouts under reposDir.
func New(store Store, clk clock.Clock, notifier Notifier, reposDir string, logger *slog.Logger) *Importer {
	return &Importer{
		store:    store,
		clock:    clk,
		notifier: notifier,
		logger:   logger.With("component", "importer"),
		reposDir: reposDir,
		gitSync:  gitsource.Sync,
	}
}

// WithGitSync replaces the function used to update git checkouts.
func (im *Importer) WithGitSync(fn GitSyncFunc) *Importer {
	im.gitSync = fn
	return im
}

// Report summarizes one reconciliation.
type Report struct {
	SourceID int64
	Path     string
	Parsed   int
	Inserted int
	Archived int
	// Errors holds per-file and per-entry problems that did not stop the scan.
	Errors []error
}

// AddSource registers a local directory or git remote. Local paths are
// stored absolute. Adding a known path returns the existing source.
func (im *Importer) AddSource(ctx context.Context, path string) (*storage.Source, error) {
	sourceType := storage.SourceLocal
	if gitsource.IsRemote(path) {
		sourceType = storage.SourceGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source path %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source path %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("source path %s is not a directory", abs)
		}
		path = abs
	}

	if existing, err := im.store.FindSourceByPath(ctx, path); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	id, err := im.store.InsertSource(ctx, path, sourceType)
	if err != nil {
		return nil, err
	}
	im.logger.Info("source added", "source_id", id, "type", sourceType, "path", path)
	return &storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// RunAll reconciles every registered source. A failing source is reported
// and the rest still run.
func (im *Importer) RunAll(ctx context.Context) ([]Report, error) {
	sources, err := im.store.GetAllSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	if len(sources) == 0 {
		im.logger.Info("no sources configured")
		return nil, nil
	}

	var reports []Report
	var errs []error
	for _, src := range sources {
		r, err := im.Import(ctx, src)
		if err != nil {
			im.logger.Error("source import failed", "source_id", src.ID, "path", src.Path, "error", err)
			errs = append(errs, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, errors.Join(errs...)
}

// Import reconciles a single source.
func (im *Importer) Import(ctx context.Context, src storage.Source) (Report, error) {
	dir := src.Path
	if src.Type == storage.SourceGit {
		local, err := gitsource.LocalPath(im.reposDir, src.Path)
		if err != nil {
			return Report{}, err
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return Report{}, fmt.Errorf("failed to create repos directory: %w", err)
		}
		if err := im.gitSync(ctx, src.Path, local, im.logger); err != nil {
			return Report{}, err
		}
		dir = local
	}

	r, err := im.reconcile(ctx, src.ID, dir)
	if err != nil {
		return r, err
	}
	r.Path = src.Path

	if err := im.store.UpdateSourceLastScanned(ctx, src.ID, im.clock.Now()); err != nil {
		im.logger.Warn("failed to update last scanned", "source_id", src.ID, "error", err)
	}
	if r.Inserted > 0 || r.Archived > 0 {
		im.notifier.RequestRefresh()
	}
	im.logger.Info("reconciliation complete",
		"source_id", src.ID,
		"path", dir,
		"parsed", r.Parsed,
		"inserted", r.Inserted,
		"archived", r.Archived,
		"errors", len(r.Errors))
	return r, nil
}

func (im *Importer) reconcile(ctx context.Context, sourceID int64, dir string) (Report, error) {
	r := Report{SourceID: sourceID}
	seen := make(map[string]bool)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		entries, err := parser.ParseFile(path)
		if err != nil {
			r.Errors = append(r.Errors, fmt.Errorf("parsing %s: %w", path, err))
			return nil
		}
		folder := folderName(dir, path)
		for _, e := range entries {
			r.Parsed++
			fp := fingerprint.Of(e)
			if seen[fp] {
				continue
			}
			seen[fp] = true

			inserted, err := im.insertIfNew(ctx, sourceID, folder, fp, e)
			if err != nil {
				r.Errors = append(r.Errors, fmt.Errorf("%s:%d: %w", path, e.Line, err))
				continue
			}
			if inserted {
				r.Inserted++
			}
		}
		return nil
	})
	if walkErr != nil {
		return r, fmt.Errorf("error walking directory %s: %w", dir, walkErr)
	}

	existing, err := im.store.GetCardsBySourceID(ctx, sourceID)
	if err != nil {
		return r, fmt.Errorf("error getting cards for source %d: %w", sourceID, err)
	}
	for _, sc := range existing {
		if sc.Archived || seen[sc.Fingerprint] {
			continue
		}
		archived, err := im.store.UpdateCard(ctx, sc.ID, func(c *card.Card) error { return c.Archive() })
		if archived == nil {
			r.Errors = append(r.Errors, fmt.Errorf("archiving orphaned card %s: %w", sc.ID, err))
			continue
		}
		im.logger.Info("orphaned card archived", "card_id", sc.ID, "fingerprint", sc.Fingerprint)
		r.Archived++
	}
	return r, nil
}

func (im *Importer) insertIfNew(ctx context.Context, sourceID int64, folder, fp string, e parser.Entry) (bool, error) {
	existing, err := im.store.GetCardByFingerprint(ctx, fp)
	if existing != nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	d := card.Draft{
		Type:        e.Type,
		Content:     e.Body(),
		Answer:      e.Answer,
		Fingerprint: fp,
	}
	if folder != "" {
		f, err := im.store.EnsureFolder(ctx, folder)
		if err != nil {
			return false, err
		}
		d.Folder = f
	}
	c, err := card.New(d, im.clock.Now())
	if err != nil {
		return false, err
	}
	if err := im.store.InsertSourcedCard(ctx, c, sourceID); err != nil {
		return false, err
	}
	im.logger.Debug("card imported", "card_id", c.ID(), "type", c.Type(), "fingerprint", fp)
	return true, nil
}

// folderName derives a folder from the file's directory relative to the
// source root. Files at the root have no folder.
func folderName(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}
