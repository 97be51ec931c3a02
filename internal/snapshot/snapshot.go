// Package snapshot builds, persists, and restores timestamped copies of the
// resolved dataset. Saving prefers the remote server, then the local store,
// then a JSON export file. Loading prefers the server-hosted snapshot, then
// the local store. Documents that fail schema validation are treated as
// absent.
package snapshot

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/internal/sqlite"
	"github.com/mesh-intelligence/fira/pkg/types"
)

//go:embed snapshot.schema.json
var schemaJSON []byte

const schemaURL = "https://fira.local/schemas/snapshot.json"

// ExportPrefix starts the file name of exported snapshots.
const ExportPrefix = "fira-cache-"

// Target names where a snapshot was saved or loaded from.
type Target string

// Targets.
const (
	TargetNone   Target = ""
	TargetServer Target = "server"
	TargetLocal  Target = "local"
	TargetExport Target = "export"
)

// ErrInvalid is returned by Decode for documents that fail validation.
var ErrInvalid = errors.New("invalid snapshot")

// Remote persists and serves snapshots on the API server.
type Remote interface {
	SaveCacheFile(ctx context.Context, snap types.Snapshot) error
	GetCacheFile(ctx context.Context) ([]byte, error)
}

// Local is the durable local snapshot store.
type Local interface {
	SaveSnapshot(body []byte) error
	LoadSnapshot() (*sqlite.StoredSnapshot, error)
}

// Options configures a Manager. Any store may be nil.
type Options struct {
	Remote    Remote
	Local     Local
	ExportDir string
	MaxAge    time.Duration
	Now       func() time.Time
	Logger    *zap.Logger
}

// Manager saves and loads snapshots.
type Manager struct {
	remote    Remote
	local     Local
	exportDir string
	maxAge    time.Duration
	now       func() time.Time
	logger    *zap.Logger
	schema    *jsonschema.Schema
}

// New creates a Manager and compiles the snapshot schema.
func New(opts Options) (*Manager, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("adding snapshot schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling snapshot schema: %w", err)
	}

	m := &Manager{
		remote:    opts.Remote,
		local:     opts.Local,
		exportDir: opts.ExportDir,
		maxAge:    opts.MaxAge,
		now:       opts.Now,
		logger:    opts.Logger,
		schema:    schema,
	}
	if m.maxAge <= 0 {
		m.maxAge = types.DefaultCacheMaxAge
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m, nil
}

// SetRemote replaces the remote store. A nil remote disables server saves.
func (m *Manager) SetRemote(r Remote) { m.remote = r }

// Build stamps a dataset with the current time and summary metadata.
func (m *Manager) Build(ds types.Dataset) types.Snapshot {
	return Build(ds, m.now())
}

// Build stamps a dataset with now and summary metadata.
func Build(ds types.Dataset, now time.Time) types.Snapshot {
	cp := ds.Clone()
	return types.Snapshot{
		Timestamp:    now.UTC(),
		Projects:     cp.Projects,
		AllTasks:     cp.AllTasks,
		ProjectTasks: cp.ProjectTasks,
		Metadata: types.SnapshotMetadata{
			Version:       types.SnapshotVersion,
			TotalProjects: len(cp.Projects),
			TotalTasks:    len(cp.AllTasks),
		},
	}
}

// Save persists a snapshot of ds and returns where it landed. The server is
// tried first, then the local store, then an export file.
func (m *Manager) Save(ctx context.Context, ds types.Dataset) (Target, error) {
	snap := m.Build(ds)

	if m.remote != nil {
		err := m.remote.SaveCacheFile(ctx, snap)
		if err == nil {
			return TargetServer, nil
		}
		m.logger.Debug("server snapshot save failed", zap.Error(err))
	}

	body, err := Encode(snap)
	if err != nil {
		return TargetNone, err
	}
	if m.local != nil {
		err := m.local.SaveSnapshot(body)
		if err == nil {
			return TargetLocal, nil
		}
		m.logger.Warn("local snapshot save failed", zap.Error(err))
	}

	if m.exportDir != "" {
		_, err := exportBody(m.exportDir, body, snap.Timestamp)
		if err == nil {
			return TargetExport, nil
		}
		m.logger.Warn("snapshot export failed", zap.Error(err))
	}
	return TargetNone, fmt.Errorf("saving snapshot: %w", types.ErrUnavailable)
}

// SaveLocal persists a snapshot of ds in the local store only. Server
// mode uses it to keep the offline copy current after each mutation.
func (m *Manager) SaveLocal(ds types.Dataset) error {
	if m.local == nil {
		return fmt.Errorf("saving snapshot: %w", types.ErrUnavailable)
	}
	body, err := Encode(m.Build(ds))
	if err != nil {
		return err
	}
	return m.local.SaveSnapshot(body)
}

// Export writes a snapshot of ds into the export directory and returns the
// file path.
func (m *Manager) Export(ds types.Dataset, dir string) (string, error) {
	snap := m.Build(ds)
	body, err := Encode(snap)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = m.exportDir
	}
	if dir == "" {
		dir = "."
	}
	return exportBody(dir, body, snap.Timestamp)
}

func exportBody(dir string, body []byte, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export dir: %w", err)
	}
	path := filepath.Join(dir, ExportPrefix+at.UTC().Format("2006-01-02")+".json")
	tmp, err := os.CreateTemp(dir, ".export-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("syncing export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("renaming export: %w", err)
	}
	return path, nil
}

// Load returns the best available snapshot and where it came from, or nil
// and TargetNone when no valid snapshot exists. Load never fails; invalid
// documents are logged and skipped.
func (m *Manager) Load(ctx context.Context) (*types.Snapshot, Target) {
	if m.remote != nil {
		body, err := m.remote.GetCacheFile(ctx)
		if err == nil {
			snap, err := m.Decode(body)
			if err == nil {
				return snap, TargetServer
			}
			m.logger.Warn("server snapshot rejected", zap.Error(err))
		} else {
			m.logger.Debug("server snapshot unavailable", zap.Error(err))
		}
	}
	if m.local != nil {
		stored, err := m.local.LoadSnapshot()
		if err == nil {
			snap, err := m.Decode(stored.Body)
			if err == nil {
				return snap, TargetLocal
			}
			m.logger.Warn("local snapshot rejected", zap.Error(err))
		} else if !errors.Is(err, types.ErrNotFound) {
			m.logger.Debug("local snapshot unavailable", zap.Error(err))
		}
	}
	return nil, TargetNone
}

// LoadFresh returns the best available snapshot only when it is not stale.
func (m *Manager) LoadFresh(ctx context.Context) (*types.Snapshot, Target) {
	snap, target := m.Load(ctx)
	if snap == nil {
		return nil, TargetNone
	}
	if m.IsStale(*snap) {
		m.logger.Info("cached snapshot is stale", zap.Time("timestamp", snap.Timestamp), zap.String("source", string(target)))
		return nil, TargetNone
	}
	return snap, target
}

// Decode validates a snapshot document and unmarshals it.
func (m *Manager) Decode(body []byte) (*types.Snapshot, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := m.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, firstCause(err))
	}
	var snap types.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if snap.ProjectTasks == nil {
		snap.ProjectTasks = map[string][]types.Task{}
	}
	return &snap, nil
}

// Encode renders a snapshot as JSON.
func Encode(snap types.Snapshot) ([]byte, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return body, nil
}

// IsStale reports whether the snapshot is older than the maximum age.
func (m *Manager) IsStale(snap types.Snapshot) bool {
	return IsStaleAt(snap, m.now(), m.maxAge)
}

// IsStaleAt reports whether snap is older than maxAge at now.
func IsStaleAt(snap types.Snapshot, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = types.DefaultCacheMaxAge
	}
	return now.Sub(snap.Timestamp) > maxAge
}

func firstCause(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
