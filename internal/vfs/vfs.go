// Package vfs implements the Virtual Filesystem (spec.md §4.2): per-workspace
// hierarchical content addressed by (workspace_id, path), with bytes
// referenced through content-addressed blobs in the Storage Core. Grounded
// on the teacher's internal/world scanning idiom (internal/world/fs.go,
// internal/world/incremental_scan.go) adapted from a one-shot scanner into
// a stateful read/write/watch filesystem layer.
package vfs

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cogmem/engine/internal/engerr"
	"github.com/cogmem/engine/internal/obslog"
	"github.com/cogmem/engine/internal/storage"
	"github.com/cogmem/engine/internal/types"
)

const vnodeTable = "vnodes"

// ChangeKind enumerates the VFS change-event taxonomy (spec.md §4.2).
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// ChangeEvent is published to the Reparse Pipeline and any external watcher.
type ChangeEvent struct {
	WorkspaceID string
	Path        string
	Kind        ChangeKind
	ContentHash string
	At          time.Time
}

// VFS is the Virtual Filesystem layer over the Storage Core.
type VFS struct {
	store *storage.Store
	log   *zap.Logger

	mu        sync.RWMutex
	workspace map[string]*types.Workspace

	eventsMu sync.Mutex
	events   chan ChangeEvent
}

// Options configures the VFS's change-event channel.
type Options struct {
	// EventBuffer bounds the change-event channel; once full, the oldest
	// pending event is dropped rather than blocking writers (consistent
	// with the Reparse Pipeline's own debounce/coalesce behavior, which
	// tolerates missed intermediate events as long as the final state is
	// eventually rescanned).
	EventBuffer int
}

// New constructs a VFS over an already-open Storage Core.
func New(store *storage.Store, opts Options) *VFS {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &VFS{
		store:     store,
		log:       obslog.Get(obslog.CategoryVFS),
		workspace: make(map[string]*types.Workspace),
		events:    make(chan ChangeEvent, opts.EventBuffer),
	}
}

// Events returns the channel change events are published on.
func (v *VFS) Events() <-chan ChangeEvent { return v.events }

func (v *VFS) publish(ev ChangeEvent) {
	select {
	case v.events <- ev:
	default:
		// Drop the oldest pending event to make room; a full ring would
		// otherwise block writers indefinitely.
		select {
		case <-v.events:
		default:
		}
		select {
		case v.events <- ev:
		default:
		}
	}
}

func cleanPath(p string) string {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	return strings.TrimPrefix(p, "/")
}

func vnodeKey(wsID, p string) string { return wsID + "\x00" + p }

type vnodeDoc struct {
	Path        string    `json:"path"`
	NodeType    string    `json:"node_type"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	Language    string    `json:"language"`
	ReadOnly    bool      `json:"read_only"`
	SourcePath  string    `json:"source_path"`
	SyncState   string    `json:"sync_state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (v *VFS) registerWorkspace(ws *types.Workspace) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.workspace[ws.ID] = ws
}

func (v *VFS) lookupWorkspace(id string) (*types.Workspace, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ws, ok := v.workspace[id]
	return ws, ok
}

// RegisterWorkspace makes a workspace's read-only/fork metadata visible to
// the VFS's mutation checks. Called by the engine composition root after a
// workspace is created or loaded from storage.
func (v *VFS) RegisterWorkspace(ws *types.Workspace) { v.registerWorkspace(ws) }

func (v *VFS) getVNodeDoc(ctx context.Context, wsID, p string) (*vnodeDoc, error) {
	rec, found, err := v.store.Get(ctx, vnodeTable, vnodeKey(wsID, p))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var doc vnodeDoc
	if err := json.Unmarshal(rec.Content, &doc); err != nil {
		return nil, fmt.Errorf("vfs: decode vnode %s/%s: %w", wsID, p, err)
	}
	return &doc, nil
}

func toVNode(wsID string, d *vnodeDoc) *types.VNode {
	return &types.VNode{
		WorkspaceID: wsID,
		Path:        d.Path,
		NodeType:    types.NodeType(d.NodeType),
		ContentHash: d.ContentHash,
		SizeBytes:   d.SizeBytes,
		Language:    d.Language,
		ReadOnly:    d.ReadOnly,
		SourcePath:  d.SourcePath,
		SyncState:   types.SyncState(d.SyncState),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func (v *VFS) putVNodeDoc(ctx context.Context, wsID string, d *vnodeDoc) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return v.store.Upsert(ctx, vnodeTable, storage.Record{
		ID:      vnodeKey(wsID, d.Path),
		Content: raw,
		Indexed: map[string]string{
			"workspace_id": wsID,
			"path":         d.Path,
			"content_hash": d.ContentHash,
		},
	})
}

// checkWritable enforces the workspace read-only rule (spec.md §4.2: "a
// workspace marked read-only refuses mutations"). Fork fall-through is
// handled by Read, not here.
func (v *VFS) checkWritable(wsID string) error {
	ws, ok := v.lookupWorkspace(wsID)
	if ok && ws.ReadOnly {
		return &engerr.ReadOnly{Resource: fmt.Sprintf("workspace %s", wsID)}
	}
	return nil
}

func (v *VFS) parentOf(ws string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	w, ok := v.workspace[ws]
	if !ok || w.ParentWorkspace == "" {
		return "", false
	}
	return w.ParentWorkspace, true
}

// Read returns a file's bytes, following content_hash through the blob
// store. Forked workspaces fall through to the parent when the path is
// absent in the child (copy-on-write at the vnode level).
func (v *VFS) Read(ctx context.Context, wsID, p string) ([]byte, error) {
	p = cleanPath(p)
	doc, err := v.getVNodeDoc(ctx, wsID, p)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		if parent, ok := v.parentOf(wsID); ok {
			return v.Read(ctx, parent, p)
		}
		return nil, &engerr.NotFound{Kind: "vnode", Key: p}
	}
	if doc.NodeType != string(types.NodeTypeFile) {
		return nil, &engerr.InvalidInput{What: fmt.Sprintf("%s is a directory", p)}
	}
	data, found, err := v.store.GetBlob(ctx, doc.ContentHash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &engerr.NotFound{Kind: "blob", Key: doc.ContentHash}
	}
	return data, nil
}

// Write creates or replaces a file's content (spec.md §4.2: write).
func (v *VFS) Write(ctx context.Context, wsID, p string, data []byte) (*types.VNode, error) {
	return v.writeInternal(ctx, wsID, p, data, false)
}

// Update requires the node to already exist, otherwise behaves like Write.
func (v *VFS) Update(ctx context.Context, wsID, p string, data []byte) (*types.VNode, error) {
	p = cleanPath(p)
	existing, err := v.getVNodeDoc(ctx, wsID, p)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, &engerr.NotFound{Kind: "vnode", Key: p}
	}
	return v.writeInternal(ctx, wsID, p, data, true)
}

func (v *VFS) writeInternal(ctx context.Context, wsID, p string, data []byte, requireExists bool) (*types.VNode, error) {
	p = cleanPath(p)
	if err := v.checkWritable(wsID); err != nil {
		return nil, err
	}

	existing, err := v.getVNodeDoc(ctx, wsID, p)
	if err != nil {
		return nil, err
	}
	if requireExists && existing == nil {
		return nil, &engerr.NotFound{Kind: "vnode", Key: p}
	}

	hash := storage.HashContent(data)
	if existing != nil && existing.ContentHash == hash {
		// Identical content: the existing vnode already holds the one
		// reference this write would otherwise add, so re-running PutBlob
		// here would inflate refcount for no new reference (spec.md §8:
		// "write(W,P,B); write(W,P,B)" must be a refcount no-op).
	} else {
		if _, err := v.store.PutBlob(ctx, data); err != nil {
			return nil, err
		}
		if existing != nil && existing.ContentHash != "" {
			if err := v.store.ReleaseBlob(ctx, existing.ContentHash); err != nil {
				v.log.Warn("release previous blob failed", zap.Error(err))
			}
		}
	}

	if err := v.ensureParents(ctx, wsID, p); err != nil {
		return nil, err
	}

	now := time.Now()
	doc := &vnodeDoc{
		Path:        p,
		NodeType:    string(types.NodeTypeFile),
		ContentHash: hash,
		SizeBytes:   int64(len(data)),
		Language:    detectLanguage(p),
		SyncState:   string(types.SyncStateSynchronized),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing != nil {
		doc.CreatedAt = existing.CreatedAt
		doc.ReadOnly = existing.ReadOnly
		doc.SourcePath = existing.SourcePath
	}

	if err := v.putVNodeDoc(ctx, wsID, doc); err != nil {
		return nil, err
	}

	kind := ChangeCreated
	if existing != nil {
		kind = ChangeModified
	}
	v.publish(ChangeEvent{WorkspaceID: wsID, Path: p, Kind: kind, ContentHash: hash, At: now})

	return toVNode(wsID, doc), nil
}

// ensureParents materializes every ancestor directory of p as a directory
// vnode if it does not already exist.
func (v *VFS) ensureParents(ctx context.Context, wsID, p string) error {
	dir := path.Dir(p)
	if dir == "." || dir == "/" || dir == "" {
		return nil
	}
	var parts []string
	for d := dir; d != "." && d != "/" && d != ""; d = path.Dir(d) {
		parts = append([]string{d}, parts...)
	}
	for _, d := range parts {
		existing, err := v.getVNodeDoc(ctx, wsID, d)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		now := time.Now()
		doc := &vnodeDoc{
			Path:      d,
			NodeType:  string(types.NodeTypeDirectory),
			SyncState: string(types.SyncStateSynchronized),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := v.putVNodeDoc(ctx, wsID, doc); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a file or directory. A non-empty directory requires
// recursive=true (spec.md §4.2).
func (v *VFS) Delete(ctx context.Context, wsID, p string, recursive bool) error {
	p = cleanPath(p)
	if err := v.checkWritable(wsID); err != nil {
		return err
	}

	doc, err := v.getVNodeDoc(ctx, wsID, p)
	if err != nil {
		return err
	}
	if doc == nil {
		return &engerr.NotFound{Kind: "vnode", Key: p}
	}

	if doc.NodeType == string(types.NodeTypeDirectory) {
		children, err := v.List(ctx, wsID, p)
		if err != nil {
			return err
		}
		if len(children) > 0 && !recursive {
			return &engerr.DirectoryNotEmpty{Path: p}
		}
		for _, c := range children {
			if err := v.Delete(ctx, wsID, c.Path, true); err != nil {
				return err
			}
		}
	} else if doc.ContentHash != "" {
		if err := v.store.ReleaseBlob(ctx, doc.ContentHash); err != nil {
			v.log.Warn("release blob on delete failed", zap.Error(err))
		}
	}

	if _, _, err := v.store.Delete(ctx, vnodeTable, vnodeKey(wsID, p)); err != nil {
		return err
	}
	v.publish(ChangeEvent{WorkspaceID: wsID, Path: p, Kind: ChangeDeleted, At: time.Now()})
	return nil
}

// Copy duplicates a node, sharing content_hash (no byte copy).
func (v *VFS) Copy(ctx context.Context, wsID, src, dst string, overwrite, recursive bool) error {
	src, dst = cleanPath(src), cleanPath(dst)
	if err := v.checkWritable(wsID); err != nil {
		return err
	}

	srcDoc, err := v.getVNodeDoc(ctx, wsID, src)
	if err != nil {
		return err
	}
	if srcDoc == nil {
		return &engerr.NotFound{Kind: "vnode", Key: src}
	}

	dstDoc, err := v.getVNodeDoc(ctx, wsID, dst)
	if err != nil {
		return err
	}
	if dstDoc != nil && !overwrite {
		return &engerr.Conflict{Kind: "vnode", Key: dst}
	}
	if srcDoc.NodeType == string(types.NodeTypeDirectory) && !recursive {
		return &engerr.InvalidInput{What: "copy of a directory requires recursive=true"}
	}

	if err := v.ensureParents(ctx, wsID, dst); err != nil {
		return err
	}

	if srcDoc.ContentHash != "" {
		if dstDoc != nil && dstDoc.ContentHash == srcDoc.ContentHash {
			// dst already holds the one reference this copy would add;
			// bumping here (and releasing below) would be a net no-op at
			// best and a leak at worst, so skip both.
		} else {
			if _, _, err := v.store.GetBlob(ctx, srcDoc.ContentHash); err != nil {
				return err
			}
			if _, err := v.store.PutBlob(ctx, mustBlobBytes(ctx, v.store, srcDoc.ContentHash)); err != nil {
				return err
			}
			if dstDoc != nil && dstDoc.ContentHash != "" {
				if err := v.store.ReleaseBlob(ctx, dstDoc.ContentHash); err != nil {
					v.log.Warn("release previous destination blob failed", zap.Error(err))
				}
			}
		}
	} else if dstDoc != nil && dstDoc.ContentHash != "" {
		// Overwriting with a directory (no content) still must release
		// whatever blob the previous destination vnode referenced.
		if err := v.store.ReleaseBlob(ctx, dstDoc.ContentHash); err != nil {
			v.log.Warn("release previous destination blob failed", zap.Error(err))
		}
	}

	now := time.Now()
	newDoc := &vnodeDoc{
		Path:        dst,
		NodeType:    srcDoc.NodeType,
		ContentHash: srcDoc.ContentHash,
		SizeBytes:   srcDoc.SizeBytes,
		Language:    srcDoc.Language,
		SyncState:   string(types.SyncStateUnsynced),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := v.putVNodeDoc(ctx, wsID, newDoc); err != nil {
		return err
	}
	v.publish(ChangeEvent{WorkspaceID: wsID, Path: dst, Kind: ChangeCreated, ContentHash: newDoc.ContentHash, At: now})

	if srcDoc.NodeType == string(types.NodeTypeDirectory) {
		children, err := v.List(ctx, wsID, src)
		if err != nil {
			return err
		}
		for _, c := range children {
			childDst := path.Join(dst, path.Base(c.Path))
			if err := v.Copy(ctx, wsID, c.Path, childDst, overwrite, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// mustBlobBytes refetches a blob's bytes so Copy's refcount-incrementing
// PutBlob call has content to hash; the hash is already known so this is
// purely a refcount bump, not a re-derivation.
func mustBlobBytes(ctx context.Context, s *storage.Store, hash string) []byte {
	data, _, _ := s.GetBlob(ctx, hash)
	return data
}

// Move is Copy followed by Delete of the source, performed so that a
// failure partway leaves the source node intact for retry.
func (v *VFS) Move(ctx context.Context, wsID, src, dst string, overwrite bool) error {
	if err := v.Copy(ctx, wsID, src, dst, overwrite, true); err != nil {
		return err
	}
	return v.Delete(ctx, wsID, src, true)
}

// List returns the immediate children of a directory path ("" for root).
func (v *VFS) List(ctx context.Context, wsID, p string) ([]*types.VNode, error) {
	p = cleanPath(p)
	recs, err := v.store.SelectByIndex(ctx, vnodeTable, "workspace_id", wsID)
	if err != nil {
		return nil, err
	}
	var out []*types.VNode
	for _, rec := range recs {
		var doc vnodeDoc
		if err := json.Unmarshal(rec.Content, &doc); err != nil {
			continue
		}
		if doc.Path == p {
			continue
		}
		if path.Dir(doc.Path) == p || (p == "" && !strings.Contains(doc.Path, "/")) {
			out = append(out, toVNode(wsID, &doc))
		}
	}
	return out, nil
}

// WalkPredicate filters nodes during Walk; return false to exclude a node
// from the result (its descendants are still visited).
type WalkPredicate func(*types.VNode) bool

// WalkOptions bounds a recursive Walk.
type WalkOptions struct {
	MaxDepth  int // <=0 means unbounded
	Predicate WalkPredicate
}

// Walk recursively visits every descendant of p (spec.md §4.2: walk).
func (v *VFS) Walk(ctx context.Context, wsID, p string, opts WalkOptions) ([]*types.VNode, error) {
	var out []*types.VNode
	var recurse func(cur string, depth int) error
	recurse = func(cur string, depth int) error {
		if opts.MaxDepth > 0 && depth > opts.MaxDepth {
			return nil
		}
		children, err := v.List(ctx, wsID, cur)
		if err != nil {
			return err
		}
		for _, c := range children {
			if opts.Predicate == nil || opts.Predicate(c) {
				out = append(out, c)
			}
			if c.NodeType == types.NodeTypeDirectory {
				if err := recurse(c.Path, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := recurse(cleanPath(p), 1); err != nil {
		return nil, err
	}
	return out, nil
}

func detectLanguage(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if lang, ok := extensionLanguages[ext]; ok {
		return lang
	}
	switch path.Base(p) {
	case "go.mod", "go.sum":
		return "go_mod"
	case "Cargo.toml":
		return "cargo"
	case "package.json":
		return "npm"
	}
	return "unknown"
}

// extensionLanguages maps file extensions to the Code Analysis layer's
// language identifiers (superset retained from the teacher's detectLanguage
// table; only the tree-sitter-backed subset parses, the rest is metadata).
var extensionLanguages = map[string]string{
	".go":    "go",
	".py":    "python",
	".rs":    "rust",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".java":  "java",
	".kt":    "kotlin",
	".md":    "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
}
