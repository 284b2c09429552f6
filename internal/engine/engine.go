// Package engine is the composition root: it owns the storage pool and
// wires every layer (VFS, Code Analysis registry, the four memory
// tiers, the ingestion pipeline, the consolidator) behind a single typed
// Query Surface. Grounded on the teacher's cmd/nerd bootstrap sequence
// (open storage, construct subsystems in dependency order, start
// background loops, register shutdown), generalized from a CLI
// bootstrap into a library-level Open/Close lifecycle.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cogmem/engine/internal/config"
	"github.com/cogmem/engine/internal/consolidation"
	"github.com/cogmem/engine/internal/embedding"
	"github.com/cogmem/engine/internal/ingest"
	"github.com/cogmem/engine/internal/lang"
	"github.com/cogmem/engine/internal/memory/episodic"
	"github.com/cogmem/engine/internal/memory/procedural"
	"github.com/cogmem/engine/internal/memory/semantic"
	"github.com/cogmem/engine/internal/memory/working"
	"github.com/cogmem/engine/internal/obslog"
	"github.com/cogmem/engine/internal/query"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/vfs"
)

// Engine owns every layer's lifetime and exposes the Query Surface as
// the sole external boundary (spec.md §6).
type Engine struct {
	store        *storage.Store
	vfs          *vfs.VFS
	registry     *lang.Registry
	working      *working.Store
	episodic     *episodic.Store
	semantic     *semantic.Store
	procedural   *procedural.Store
	ingest       *ingest.Pipeline
	consolidator *consolidation.Consolidator
	embedder     embedding.Engine

	Surface *query.Surface

	cancel context.CancelFunc
	loopsDone chan struct{}
}

// Open constructs and wires every layer per cfg, starts the background
// reparse worker and consolidator, and returns the running Engine.
func Open(ctx context.Context, cfg config.Config) (*Engine, error) {
	if err := obslog.Initialize(cfg.DataDir, obslog.Config{
		DebugMode: cfg.Logging.DebugMode, Categories: cfg.Logging.Categories, Level: cfg.Logging.Level,
	}); err != nil {
		return nil, fmt.Errorf("engine: init logging: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("engine: open storage: %w", err)
	}

	v := vfs.New(store, vfs.Options{})
	registry := lang.NewRegistry()

	workingCfg := working.Config{
		Enabled: cfg.Cache.Enabled, MaxItems: cfg.Cache.MaxItems, MaxBytes: cfg.Cache.MaxBytes, TTL: cfg.Cache.TTL,
	}
	workingStore := working.New(workingCfg)
	episodicStore := episodic.New(store, cfg.Episodic)

	semanticStore, err := semantic.New(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: construct semantic memory: %w", err)
	}
	proceduralStore := procedural.New(store)

	embedder := embedding.NewMock(cfg.Embedding)

	ingestPipeline := ingest.New(v, registry, semanticStore, embedder, cfg.Reparse)
	consolidator := consolidation.New(store, episodicStore, proceduralStore, cfg.Consolidation)

	surface := query.New(store, v, workingStore, episodicStore, semanticStore, proceduralStore, ingestPipeline, consolidator)

	loopCtx, cancel := context.WithCancel(context.Background())
	eng := &Engine{
		store: store, vfs: v, registry: registry,
		working: workingStore, episodic: episodicStore, semantic: semanticStore, procedural: proceduralStore,
		ingest: ingestPipeline, consolidator: consolidator, embedder: embedder,
		Surface: surface, cancel: cancel, loopsDone: make(chan struct{}),
	}

	go eng.runBackgroundLoops(loopCtx)
	return eng, nil
}

func (e *Engine) runBackgroundLoops(ctx context.Context) {
	defer close(e.loopsDone)

	done := make(chan struct{}, 2)
	go func() { e.ingest.Run(ctx); done <- struct{}{} }()
	go func() { e.consolidator.Run(ctx); done <- struct{}{} }()

	<-done
	<-done
}

// Close stops background loops, giving them a grace period to drain
// in-flight work, then closes the storage pool (spec.md §4.1's pool
// shutdown contract).
func (e *Engine) Close() error {
	e.cancel()

	select {
	case <-e.loopsDone:
	case <-time.After(10 * time.Second):
	}

	e.ingest.Stop()
	e.consolidator.Stop()
	return e.store.Close()
}
