package config

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("WS_RESEND_BUFFER_SIZE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	assert.Equal(t, cfg.Database.Driver, DriverCouch)
	assert.Equal(t, cfg.WebSocket.ResendBufferSize, 10)
	assert.Equal(t, cfg.WebSocket.DiffHistoryLength, 1000)
	assert.Equal(t, cfg.WebSocket.PingPeriod, 54*time.Second)
	assert.Equal(t, cfg.Redis.Enabled(), false)
	assert.Equal(t, cfg.Redis.Channel, "collab:rooms")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WS_SEND_BUFFER_SIZE", "32")
	t.Setenv("LOG_VERBOSITY", "2")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_PASSWORD", "p")
	t.Setenv("DB_HOST", "couch")
	t.Setenv("DB_PORT", "5984")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	assert.Equal(t, cfg.Database.Driver, DriverMemory)
	assert.Equal(t, cfg.Redis.Enabled(), true)
	assert.Equal(t, cfg.WebSocket.SendBufferSize, 32)
	assert.Equal(t, cfg.Logging.Verbosity, 2)
	assert.Equal(t, cfg.Database.CouchURL(), "http://u:p@couch:5984")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("JWT_EXPIRATION", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid JWT_EXPIRATION")
	}
}

func TestLoadLeafTypes(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("PROSEMIRROR_LEAF_TYPES", " calloutCard, ,mathBlock,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	assert.Equal(t, cfg.ProseMirror.LeafTypes, []string{"calloutCard", "mathBlock"})

	t.Setenv("PROSEMIRROR_LEAF_TYPES", "")
	cfg, _ = Load()
	assert.Equal(t, len(cfg.ProseMirror.LeafTypes), 0)
}
