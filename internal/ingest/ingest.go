// Package ingest implements the Ingestion & Reparse Pipeline (spec.md
// §4.5): one-shot file/project ingestion plus a background worker that
// debounces VFS change events and reparses affected files. Grounded on
// the teacher's internal/world/fs.go scan-then-parse flow and
// internal/world/incremental_scan.go's debounce/cache idiom, generalized
// from one-shot world scanning into a standing reparse pipeline.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/embedding"
	"github.com/cogmem/engine/internal/lang"
	"github.com/cogmem/engine/internal/memory/semantic"
	"github.com/cogmem/engine/internal/obslog"
	"github.com/cogmem/engine/internal/types"
	"github.com/cogmem/engine/internal/vfs"
)

// Report summarizes one ingest call (spec.md §4.5: IngestFile/IngestProject).
type Report struct {
	FilesIngested int
	UnitsFound    int
	Errors        []string
}

// Pipeline is the L5 ingestion and reparse layer.
type Pipeline struct {
	vfs      *vfs.VFS
	registry *lang.Registry
	semantic *semantic.Store
	embedder embedding.Engine
	cfg      config.ReparseConfig
	log      *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// New returns a Pipeline wired to the VFS, parser registry, semantic
// memory tier, and embedding provider.
func New(v *vfs.VFS, registry *lang.Registry, sem *semantic.Store, embedder embedding.Engine, cfg config.ReparseConfig) *Pipeline {
	return &Pipeline{
		vfs: v, registry: registry, semantic: sem, embedder: embedder, cfg: cfg,
		log: obslog.Get(obslog.CategoryIngest),
	}
}

// IngestFile reads path from the VFS, parses it, and replaces its
// semantic units (spec.md §4.5: IngestFile).
func (p *Pipeline) IngestFile(ctx context.Context, workspaceID, path string) (Report, error) {
	data, err := p.vfs.Read(ctx, workspaceID, path)
	if err != nil {
		return Report{}, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	units, err := p.parseAndReplace(ctx, workspaceID, path, data)
	if err != nil {
		return Report{Errors: []string{err.Error()}}, err
	}
	return Report{FilesIngested: 1, UnitsFound: len(units)}, nil
}

// IngestProject bulk-loads hostRoot into the workspace via VFS Import,
// then walks the resulting tree and parses every file (spec.md §4.5:
// IngestProject walks VFS Import, then parses each file that enters the
// workspace).
func (p *Pipeline) IngestProject(ctx context.Context, workspaceID, hostRoot string, importCfg config.ImportConfig) (Report, error) {
	if _, err := p.vfs.Import(ctx, workspaceID, hostRoot, importCfg); err != nil {
		return Report{}, fmt.Errorf("ingest: import %s: %w", hostRoot, err)
	}

	nodes, err := p.vfs.Walk(ctx, workspaceID, "/", vfs.WalkOptions{
		Predicate: func(n *types.VNode) bool { return n.NodeType == types.NodeTypeFile },
	})
	if err != nil {
		return Report{}, fmt.Errorf("ingest: walk %s: %w", workspaceID, err)
	}

	report := Report{}
	for _, n := range nodes {
		r, err := p.IngestFile(ctx, workspaceID, n.Path)
		report.FilesIngested += r.FilesIngested
		report.UnitsFound += r.UnitsFound
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", n.Path, err))
		}
	}
	return report, nil
}

// parseAndReplace parses content, embeds each discovered unit, and
// commits the status transition from the file's prior units (active ->
// replaced) to the new units (-> active) as a single atomic operation
// (spec.md §4.5 atomicity guarantee, testable property #4).
func (p *Pipeline) parseAndReplace(ctx context.Context, workspaceID, path string, content []byte) ([]types.SemanticUnit, error) {
	language := lang.LanguageForExtension(extOf(path))
	if language == "" {
		return nil, nil
	}

	tree, err := p.registry.Parse(ctx, language, content)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse %s: %w", path, err)
	}

	units := lang.ExtractUnits(tree, language, path, content)
	for i := range units {
		units[i].WorkspaceID = workspaceID
		if p.embedder != nil && units[i].Body != "" {
			vec, err := p.embedder.Embed(ctx, units[i].Body)
			if err != nil {
				p.log.Warn("ingest: embed unit failed", zap.String("path", path), zap.Error(err))
			} else {
				units[i].Embedding = vec
			}
		}
	}

	prior, err := p.semantic.QueryAllUnitsByFile(ctx, workspaceID, path)
	if err != nil {
		return nil, fmt.Errorf("ingest: query prior units %s: %w", path, err)
	}

	var superseded []types.SemanticUnit
	for _, u := range prior {
		if u.Status != types.UnitStatusActive {
			continue
		}
		u.Status = types.UnitStatusReplaced
		superseded = append(superseded, u)
	}
	for i := range units {
		units[i].Status = types.UnitStatusActive
	}

	stored, err := p.semantic.ReplaceFileUnits(ctx, superseded, units)
	if err != nil {
		return nil, fmt.Errorf("ingest: replace units %s: %w", path, err)
	}
	return stored, nil
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' {
			break
		}
	}
	return ""
}

// Run starts the background reparse worker: it debounces per-path
// change events from the VFS and reparses the flushed batch
// concurrently via errgroup (spec.md §4.5: debounce_ms, max_pending_changes).
func (p *Pipeline) Run(ctx context.Context) {
	if !p.cfg.Enabled || !p.cfg.BackgroundParsing {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	defer close(p.done)

	pending := make(map[string]vfs.ChangeEvent)
	debounce := p.cfg.Debounce()
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	maxPending := p.cfg.MaxPendingChanges
	if maxPending <= 0 {
		maxPending = 256
	}

	timer := time.NewTimer(debounce)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}
	timerActive := false

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = make(map[string]vfs.ChangeEvent)
		p.reparseBatch(ctx, batch)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-p.stop:
			flush()
			return
		case ev, ok := <-p.vfs.Events():
			if !ok {
				flush()
				return
			}
			pending[ev.WorkspaceID+"\x00"+ev.Path] = ev
			if len(pending) >= maxPending {
				flush()
				if timerActive && !timer.Stop() {
					<-timer.C
				}
				timerActive = false
				continue
			}
			if !timerActive {
				timer.Reset(debounce)
				timerActive = true
			}
		case <-timer.C:
			timerActive = false
			flush()
		}
	}
}

// Stop halts the background reparse worker and waits for it to drain.
func (p *Pipeline) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
}

func (p *Pipeline) reparseBatch(ctx context.Context, batch map[string]vfs.ChangeEvent) {
	g, gctx := errgroup.WithContext(ctx)
	for _, ev := range batch {
		ev := ev
		g.Go(func() error {
			if ev.Kind == vfs.ChangeDeleted {
				return p.retireUnits(gctx, ev.WorkspaceID, ev.Path)
			}
			data, err := p.vfs.Read(gctx, ev.WorkspaceID, ev.Path)
			if err != nil {
				p.log.Warn("reparse: read failed", zap.String("path", ev.Path), zap.Error(err))
				return nil
			}
			if _, err := p.parseAndReplace(gctx, ev.WorkspaceID, ev.Path, data); err != nil {
				p.log.Warn("reparse: parse failed", zap.String("path", ev.Path), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) retireUnits(ctx context.Context, workspaceID, path string) error {
	prior, err := p.semantic.QueryAllUnitsByFile(ctx, workspaceID, path)
	if err != nil {
		return fmt.Errorf("ingest: query retired units %s: %w", path, err)
	}
	var retired []types.SemanticUnit
	for _, u := range prior {
		if u.Status == types.UnitStatusDeleted {
			continue
		}
		u.Status = types.UnitStatusDeleted
		retired = append(retired, u)
	}
	if _, err := p.semantic.ReplaceFileUnits(ctx, retired, nil); err != nil {
		p.log.Warn("ingest: retire units failed", zap.String("path", path), zap.Error(err))
	}
	return nil
}
