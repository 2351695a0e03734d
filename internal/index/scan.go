package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/engramhq/engram/internal/memfile"
)

// ScanOptions tunes one scan pass.
type ScanOptions struct {
	// SpecFolder restricts the scan to files grouping under one folder.
	SpecFolder string
	// IncludeConstitutional also walks the constitutional roots.
	IncludeConstitutional bool
	// Incremental skips files whose mtime matches the stored row.
	Incremental bool
	// Force bypasses both the cooldown and the incremental fast path.
	Force bool
	// AllowPartial stores rows as pending when embedding fails.
	AllowPartial bool
}

// ScanReport aggregates per-file outcomes of one scan.
type ScanReport struct {
	Scanned    int          `json:"scanned"`
	Created    int          `json:"created"`
	Updated    int          `json:"updated"`
	Reinforced int          `json:"reinforced"`
	Superseded int          `json:"superseded"`
	Unchanged  int          `json:"unchanged"`
	Pending    int          `json:"pending"`
	Failed     int          `json:"failed"`
	Files      []FileResult `json:"files,omitempty"`
}

// Scan walks the memory roots and indexes every Markdown file. The persisted
// cooldown watermark rejects back-to-back scans before any file I/O happens.
func (ix *Indexer) Scan(ctx context.Context, opts ScanOptions) (*ScanReport, error) {
	now := ix.now()
	if !opts.Force {
		last, err := ix.store.LastScanTime()
		if err != nil {
			return nil, err
		}
		if !last.IsZero() {
			if elapsed := now.Sub(last); elapsed < ix.cfg.Cooldown {
				return nil, cooldownError(ix.cfg.Cooldown - elapsed)
			}
		}
	}

	paths, err := ix.collectFiles(opts)
	if err != nil {
		return nil, err
	}

	// The mtime fast path only needs the stored rows, not the file bytes.
	mtimes := make(map[string]int64)
	if opts.Incremental && !opts.Force {
		rows, err := ix.store.AllMemories()
		if err != nil {
			return nil, err
		}
		for _, m := range rows {
			mtimes[m.FilePath] = m.FileMtimeNS
		}
	}

	report := &ScanReport{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Concurrency)
	for _, path := range paths {
		if opts.Incremental && !opts.Force {
			if stored, ok := mtimes[path]; ok && stored != 0 && stored == mtimeOf(path) {
				mu.Lock()
				report.Scanned++
				report.Unchanged++
				mu.Unlock()
				continue
			}
		}
		g.Go(func() error {
			res, err := ix.IndexFile(gctx, path, opts.AllowPartial)
			mu.Lock()
			defer mu.Unlock()
			report.Scanned++
			if err != nil {
				report.Failed++
				report.Files = append(report.Files, FileResult{
					Path: path, Status: StatusFailed, Error: err.Error(),
				})
				ix.logger.Warn("index failed",
					slog.String("path", path), slog.String("error", err.Error()))
				return nil // one bad file must not abort the scan
			}
			report.Files = append(report.Files, *res)
			switch res.Status {
			case StatusCreated:
				report.Created++
			case StatusUpdated:
				report.Updated++
			case StatusReinforced:
				report.Reinforced++
			case StatusSuperseded:
				report.Superseded++
			case StatusUnchanged:
				report.Unchanged++
			case StatusPending:
				report.Pending++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ix.store.SetLastScanTime(now); err != nil {
		return nil, err
	}
	ix.logger.Info("scan complete",
		slog.Int("scanned", report.Scanned),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("failed", report.Failed))
	return report, nil
}

// collectFiles gathers Markdown files under the roots, skipping hidden
// directories. Constitutional roots join the walk only on request, and a
// spec-folder filter drops files grouping elsewhere.
func (ix *Indexer) collectFiles(opts ScanOptions) ([]string, error) {
	roots := ix.cfg.Roots
	if opts.IncludeConstitutional {
		roots = ix.cfg.allRoots()
	}
	var paths []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if d.IsDir() {
				if name := d.Name(); strings.HasPrefix(name, ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.EqualFold(filepath.Ext(path), ".md") {
				return nil
			}
			if opts.SpecFolder != "" && memfile.SpecFolderOf(path) != opts.SpecFolder {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func mtimeOf(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}
