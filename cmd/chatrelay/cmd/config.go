package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmcleod/chatrelay/session"
	"github.com/jmcleod/chatrelay/storage"
	bboltstorage "github.com/jmcleod/chatrelay/storage/bbolt"
	"github.com/jmcleod/chatrelay/storage/gcs"
	"github.com/jmcleod/chatrelay/storage/memory"
	"github.com/jmcleod/chatrelay/storage/postgres"
	redisstorage "github.com/jmcleod/chatrelay/storage/redis"
)

const envPrefix = "CHATRELAY"

// applyEnv sets every flag not given on the command line from its
// CHATRELAY_* environment variable.
func applyEnv(flags *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envName(f.Name), err))
		}
	})
	return errors.Join(errs...)
}

func envName(flag string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// Blob store backends selectable with --store.
const (
	backendMemory   = "memory"
	backendBolt     = "bbolt"
	backendPostgres = "postgres"
	backendRedis    = "redis"
	backendGCS      = "gcs"
)

// storeConfig selects and configures the blob store behind the session
// snapshot.
type storeConfig struct {
	backend        string
	key            string
	cacheDir       string
	boltPath       string
	postgresDSN    string
	redisAddr      string
	redisPassword  string
	redisPrefix    string
	gcsBucket      string
	gcsCredentials string
}

func (c *storeConfig) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.backend, "store", backendBolt, "Snapshot blob store (memory, bbolt, postgres, redis, gcs)")
	fs.StringVar(&c.key, "store-key", session.DefaultKey, "Object key of the session snapshot")
	fs.StringVar(&c.cacheDir, "cache-dir", "./data/cache", "Directory for the local snapshot copy and its backups")
	fs.StringVar(&c.boltPath, "bbolt-path", "./data/blobs.db", "bbolt database file (store=bbolt)")
	fs.StringVar(&c.postgresDSN, "postgres-dsn", "", "PostgreSQL connection string (store=postgres)")
	fs.StringVar(&c.redisAddr, "redis-addr", "localhost:6379", "Redis address (store=redis)")
	fs.StringVar(&c.redisPassword, "redis-password", "", "Redis password (store=redis)")
	fs.StringVar(&c.redisPrefix, "redis-prefix", "chatrelay:", "Redis key prefix (store=redis)")
	fs.StringVar(&c.gcsBucket, "gcs-bucket", "", "Cloud Storage bucket (store=gcs)")
	fs.StringVar(&c.gcsCredentials, "gcs-credentials", "", "Service account JSON file; empty uses Application Default Credentials (store=gcs)")
}

// openBlobs connects to the configured backend. The returned close func is
// never nil.
func (c storeConfig) openBlobs(ctx context.Context) (storage.BlobStore, func(), error) {
	noop := func() {}
	switch c.backend {
	case backendMemory:
		return memory.NewStore(), noop, nil
	case backendBolt:
		if err := os.MkdirAll(filepath.Dir(c.boltPath), 0o700); err != nil {
			return nil, noop, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := bboltstorage.NewStoreFromFile(c.boltPath, nil)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open bbolt store: %w", err)
		}
		return s, func() { s.Close() }, nil
	case backendPostgres:
		if c.postgresDSN == "" {
			return nil, noop, errors.New("--postgres-dsn is required for store=postgres")
		}
		s, err := postgres.NewStoreFromDSN(ctx, c.postgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, s.Close, nil
	case backendRedis:
		s, err := redisstorage.NewStoreFromAddr(c.redisAddr, c.redisPassword, c.redisPrefix)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open redis store: %w", err)
		}
		return s, func() { s.Close() }, nil
	case backendGCS:
		var creds []byte
		if c.gcsCredentials != "" {
			var err error
			if creds, err = os.ReadFile(c.gcsCredentials); err != nil {
				return nil, noop, fmt.Errorf("failed to read gcs credentials: %w", err)
			}
		}
		// The token source outlives ctx.
		s, err := gcs.NewStoreWithCredentials(context.Background(), c.gcsBucket, creds)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open gcs store: %w", err)
		}
		return s, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", c.backend)
	}
}

// openSessions returns the session store over the configured backend.
func (c storeConfig) openSessions(ctx context.Context, logger *slog.Logger) (*session.SnapshotStore, func(), error) {
	blobs, closeBlobs, err := c.openBlobs(ctx)
	if err != nil {
		return nil, closeBlobs, err
	}
	s, err := session.NewSnapshotStore(blobs, c.cacheDir,
		session.WithKey(c.key),
		session.WithLogger(logger),
	)
	if err != nil {
		closeBlobs()
		return nil, func() {}, err
	}
	return s, closeBlobs, nil
}
