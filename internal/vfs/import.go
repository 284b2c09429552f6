package vfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/cogmem/engine/internal/config"
)

// ImportResult summarizes a bulk import (spec.md §4.2: "Import: bulk-load
// an external directory tree").
type ImportResult struct {
	FilesImported int
	DirsImported  int
	Skipped       int
}

// Import bulk-loads an external directory tree into a workspace. Import is
// idempotent: content-addressed Write already no-ops when the hash is
// unchanged, and re-running Import against an unchanged tree produces no
// new blobs (spec.md §4.2).
func (v *VFS) Import(ctx context.Context, wsID, root string, cfg config.ImportConfig) (*ImportResult, error) {
	ignorer, err := loadGitignore(root, cfg)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	maxDepth := cfg.MaxDepth

	err = filepath.Walk(root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			v.log.Warn("import walk error", zap.String("path", p), zap.Error(walkErr))
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if maxDepth > 0 && strings.Count(rel, "/")+1 > maxDepth {
			if info.IsDir() {
				return filepath.SkipDir
			}
			res.Skipped++
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			if !cfg.FollowLinks {
				res.Skipped++
				return nil
			}
			target, err := filepath.EvalSymlinks(p)
			if err != nil {
				res.Skipped++
				return nil
			}
			info, err = os.Stat(target)
			if err != nil {
				res.Skipped++
				return nil
			}
		}

		if !matchesImportFilters(rel, info, cfg, ignorer) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			res.Skipped++
			return nil
		}

		if info.IsDir() {
			res.DirsImported++
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			v.log.Warn("import read failed", zap.String("path", p), zap.Error(err))
			res.Skipped++
			return nil
		}
		if _, err := v.Write(ctx, wsID, rel, data); err != nil {
			v.log.Warn("import write failed", zap.String("path", rel), zap.Error(err))
			res.Skipped++
			return nil
		}
		res.FilesImported++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vfs: import %s: %w", root, err)
	}
	return res, nil
}

func loadGitignore(root string, cfg config.ImportConfig) (*gitignore.GitIgnore, error) {
	if !cfg.RespectGitignore {
		return nil, nil
	}
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	ig, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("vfs: parse .gitignore: %w", err)
	}
	return ig, nil
}

func matchesImportFilters(rel string, info os.FileInfo, cfg config.ImportConfig, ignorer *gitignore.GitIgnore) bool {
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") && base != "." {
		if base != ".gitignore" {
			return false
		}
	}
	if ignorer != nil && ignorer.MatchesPath(rel) {
		return false
	}
	if len(cfg.ExcludePatterns) > 0 {
		for _, pat := range cfg.ExcludePatterns {
			if matched, _ := filepath.Match(pat, rel); matched {
				return false
			}
			if matched, _ := filepath.Match(pat, base); matched {
				return false
			}
		}
	}
	if info.IsDir() {
		return true
	}
	if len(cfg.IncludePatterns) == 0 {
		return true
	}
	for _, pat := range cfg.IncludePatterns {
		if matched, _ := filepath.Match(pat, rel); matched {
			return true
		}
		if matched, _ := filepath.Match(pat, base); matched {
			return true
		}
	}
	return false
}

// watcherState tracks the active fsnotify watchers keyed by (workspace, root).
type watcherState struct {
	mu       sync.Mutex
	watchers map[string]func() error
}
