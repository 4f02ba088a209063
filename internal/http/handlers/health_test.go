package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/storage"
)

func TestGetHealth(t *testing.T) {
	registry := engine.NewRegistry(
		&stubEngine{id: "kokoro", available: true, catalog: kokoroStubCatalog()},
		&stubEngine{id: "chattts", available: false},
	)
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	h := NewHealthHandler("1.2.3").WithRegistry(registry).WithLayout(layout)

	out, err := h.GetHealth(context.Background(), nil)
	require.NoError(t, err)
	body := out.Body

	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, map[string]bool{"kokoro": true, "chattts": false}, body.Components.Engines)
	assert.Positive(t, body.CPUInfo.Cores)
	assert.GreaterOrEqual(t, body.UptimeSeconds, 0.0)

	_, perr := time.Parse(time.RFC3339, body.Timestamp)
	assert.NoError(t, perr)

	assert.Equal(t, layout.BaseDir(), body.Disk.Path)
	assert.Positive(t, body.Disk.TotalGB)

	// No ledger wired: the check reports unknown rather than failing.
	assert.Equal(t, "unknown", body.Components.Database.Status)
	assert.Equal(t, "unknown", body.Checks["database"])
}

func TestGetHealthWithDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	h := NewHealthHandler("dev").WithDB(db)
	out, err := h.GetHealth(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "ok", out.Body.Components.Database.Status)
	assert.Equal(t, "ok", out.Body.Checks["database"])
	assert.GreaterOrEqual(t, out.Body.Components.Database.ResponseTimeMS, 0.0)
	assert.Empty(t, out.Body.Components.Engines)
	assert.Empty(t, out.Body.Disk.Path)
}
