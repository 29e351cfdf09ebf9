package repository

import (
	"context"
	"fmt"

	"collab-sync-server/internal/config"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/golang/glog"
)

// Stores bundles the repositories of the configured driver.
type Stores struct {
	Pages       PageRepository
	Permissions PermissionRepository
	close       func()
}

func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

func Open(ctx context.Context, cfg config.DatabaseConfig) (*Stores, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		store := NewMemoryStore()
		glog.Warningf("using in-memory page store, content is lost on restart")
		return &Stores{Pages: store, Permissions: store}, nil

	case config.DriverPostgres:
		pool, err := OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := EnsurePostgresSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		glog.Infof("connected to postgres")
		return &Stores{
			Pages:       NewPostgresPageRepository(pool),
			Permissions: NewPostgresPermissionRepository(pool),
			close:       pool.Close,
		}, nil

	case config.DriverCouch:
		client, err := kivik.New("couch", cfg.CouchURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to CouchDB: %w", err)
		}
		created, err := EnsureCouchDB(ctx, client, cfg.Name)
		if err != nil {
			client.Close()
			return nil, err
		}
		if created {
			glog.Infof("created database: %s", cfg.Name)
		}
		glog.Infof("connected to CouchDB at %s:%s", cfg.Host, cfg.Port)
		return &Stores{
			Pages:       NewCouchPageRepository(client, cfg.Name),
			Permissions: NewCouchPermissionRepository(client, cfg.Name),
			close:       func() { client.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
