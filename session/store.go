// Package session maps messaging-platform user identities to conversation
// session IDs.
//
// The mapping is persisted as one JSON snapshot in a remote blob store and
// is re-fetched at the start of every operation. Serving instances share no
// memory, so there is no lock: every mutation downloads the latest snapshot,
// changes it, and uploads the whole document again. Two instances creating a
// session for the same previously unseen user at the same moment will each
// mint an ID and the later upload wins; the earlier ID is silently dropped.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/chatrelay/internal/clock"
	"github.com/jmcleod/chatrelay/storage"
)

// DefaultKey is the well-known object name of the session snapshot.
const DefaultKey = "sessions.json"

// Mapping is a full snapshot: user identity to session ID.
type Mapping map[string]string

// Store is the session mapping contract used by the webhook dispatcher and
// the notification endpoints.
type Store interface {
	// Load returns the latest persisted mapping. A missing snapshot is an
	// empty mapping, not an error.
	Load(ctx context.Context) (Mapping, error)
	// Save replaces the persisted snapshot with m.
	Save(ctx context.Context, m Mapping) error
	// ResolveOrCreate returns the session ID for user, minting and
	// persisting a new one if the user has none.
	ResolveOrCreate(ctx context.Context, user string) (string, error)
	// ReverseResolve returns the user whose session ID equals sessionID.
	// ok is false when no entry matches.
	ReverseResolve(ctx context.Context, sessionID string) (user string, ok bool, err error)
}

// Backup describes one timestamped copy of a previous local snapshot.
// Seq orders backups taken within the same millisecond.
type Backup struct {
	Path      string
	Timestamp time.Time
	Seq       int
}

// SnapshotStore implements Store over a storage.BlobStore with a local
// cache directory. Every Load first renames the existing local artifact to
// <name>.<unix-ms>.bak (<name>.<unix-ms>-<n>.bak on a collision), so the cache directory accumulates a linear history
// of snapshots for manual recovery.
type SnapshotStore struct {
	blobs    storage.BlobStore
	key      string
	cacheDir string
	clock    clock.Clock
	ids      IDGenerator
	logger   *slog.Logger
}

var _ Store = (*SnapshotStore)(nil)

// Option configures a SnapshotStore.
type Option func(*SnapshotStore)

// WithKey sets the remote object name. Defaults to DefaultKey.
func WithKey(key string) Option {
	return func(s *SnapshotStore) { s.key = key }
}

// WithClock sets the time source used for backup names.
func WithClock(c clock.Clock) Option {
	return func(s *SnapshotStore) { s.clock = c }
}

// WithIDGenerator sets the generator used for new sessions.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *SnapshotStore) { s.ids = g }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SnapshotStore) { s.logger = logger }
}

// NewSnapshotStore creates a store that persists to blobs and keeps its
// local artifact and backups under cacheDir, creating it if needed.
func NewSnapshotStore(blobs storage.BlobStore, cacheDir string, opts ...Option) (*SnapshotStore, error) {
	s := &SnapshotStore{
		blobs:    blobs,
		key:      DefaultKey,
		cacheDir: cacheDir,
		clock:    clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ids == nil {
		s.ids = NewGenerator(s.clock)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session")
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session cache dir: %w", err)
	}
	return s, nil
}

// localPath is the path of the local copy of the snapshot.
func (s *SnapshotStore) localPath() string {
	return filepath.Join(s.cacheDir, filepath.Base(s.key))
}

func (s *SnapshotStore) Load(ctx context.Context) (Mapping, error) {
	s.backupLocal()

	data, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return Mapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %w", ErrStorageUnavailable, s.key, err)
	}
	if err := os.WriteFile(s.localPath(), data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: caching %s: %w", ErrStorageUnavailable, s.key, err)
	}
	return parseSnapshot(data)
}

// backupLocal moves any existing local artifact to a timestamped backup.
// A name already taken within the same millisecond gets a -<n> suffix so
// no earlier backup is replaced. Failures are logged; the backup is not
// transactional with the fetch.
func (s *SnapshotStore) backupLocal() {
	local := s.localPath()
	if _, err := os.Stat(local); err != nil {
		return
	}
	stamp := s.clock.Now().UnixMilli()
	for seq := 0; seq < maxBackupSeq; seq++ {
		backup := backupName(local, stamp, seq)
		// Link fails when backup exists, which makes claiming a name atomic.
		err := os.Link(local, backup)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			if _, statErr := os.Stat(backup); statErr == nil {
				continue
			}
			err = os.Rename(local, backup)
		} else {
			err = os.Remove(local)
			if errors.Is(err, os.ErrNotExist) {
				err = nil
			}
		}
		if err != nil {
			s.logger.Warn("session snapshot backup failed", "path", local, "error", err)
		}
		return
	}
	s.logger.Warn("session snapshot backup skipped", "path", local, "reason", "too many backups in one millisecond")
}

// maxBackupSeq bounds the suffixes tried for one millisecond.
const maxBackupSeq = 1000

func backupName(local string, stamp int64, seq int) string {
	if seq == 0 {
		return fmt.Sprintf("%s.%d.bak", local, stamp)
	}
	return fmt.Sprintf("%s.%d-%d.bak", local, stamp, seq)
}

func (s *SnapshotStore) Save(ctx context.Context, m Mapping) error {
	if m == nil {
		m = Mapping{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding session snapshot: %w", err)
	}
	if err := os.WriteFile(s.localPath(), data, 0o600); err != nil {
		return fmt.Errorf("%w: caching %s: %w", ErrStorageUnavailable, s.key, err)
	}
	if err := s.blobs.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("%w: uploading %s: %w", ErrStorageUnavailable, s.key, err)
	}
	return nil
}

func (s *SnapshotStore) ResolveOrCreate(ctx context.Context, user string) (string, error) {
	m, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	if id, ok := m[user]; ok {
		return id, nil
	}

	id, err := s.ids.Generate(user)
	if err != nil {
		return "", err
	}
	m[user] = id
	if err := s.Save(ctx, m); err != nil {
		return "", err
	}
	s.logger.Info("session created", "entries", len(m))
	return id, nil
}

func (s *SnapshotStore) ReverseResolve(ctx context.Context, sessionID string) (string, bool, error) {
	m, err := s.Load(ctx)
	if err != nil {
		return "", false, err
	}
	for user, id := range m {
		if id == sessionID {
			return user, true, nil
		}
	}
	return "", false, nil
}

// Backups lists the backup artifacts in the cache directory, newest first.
func (s *SnapshotStore) Backups() ([]Backup, error) {
	base := filepath.Base(s.key)
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return nil, fmt.Errorf("reading session cache dir: %w", err)
	}
	var backups []Backup
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, base+".") || !strings.HasSuffix(name, ".bak") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, base+"."), ".bak")
		msPart, seqPart, hasSeq := strings.Cut(stamp, "-")
		ms, err := strconv.ParseInt(msPart, 10, 64)
		if err != nil {
			continue
		}
		seq := 0
		if hasSeq {
			if seq, err = strconv.Atoi(seqPart); err != nil || seq < 1 {
				continue
			}
		}
		backups = append(backups, Backup{
			Path:      filepath.Join(s.cacheDir, name),
			Timestamp: time.UnixMilli(ms),
			Seq:       seq,
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].Timestamp.Equal(backups[j].Timestamp) {
			return backups[i].Timestamp.After(backups[j].Timestamp)
		}
		return backups[i].Seq > backups[j].Seq
	})
	return backups, nil
}

// Restore uploads the snapshot stored at path as the current remote
// snapshot. The current local copy is backed up first.
func (s *SnapshotStore) Restore(ctx context.Context, path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading backup: %w", err)
	}
	m, err := parseSnapshot(data)
	if err != nil {
		return nil, err
	}
	s.backupLocal()
	if err := s.Save(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("session snapshot restored", "from", path, "entries", len(m))
	return m, nil
}

func parseSnapshot(data []byte) (Mapping, error) {
	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if m == nil {
		m = Mapping{}
	}
	return m, nil
}
