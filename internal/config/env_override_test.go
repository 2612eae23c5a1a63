package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("directories", func(t *testing.T) {
		t.Setenv("WIDGETRT_COMPONENTS_DIR", "/srv/widgets")
		t.Setenv("WIDGETRT_USERDATA_DIR", "/srv/user")
		t.Setenv("WIDGETRT_STATE_DIR", "/srv/state")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/srv/widgets", cfg.Components.Dir)
		assert.Equal(t, "/srv/user", cfg.Components.UserDataDir)
		assert.Equal(t, "/srv/state", cfg.Components.StateDir)
	})

	t.Run("workers must parse", func(t *testing.T) {
		t.Setenv("WIDGETRT_WORKERS", "many")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 0, cfg.Pipeline.Workers)

		t.Setenv("WIDGETRT_WORKERS", "6")
		cfg.applyEnvOverrides()
		assert.Equal(t, 6, cfg.Pipeline.Workers)
	})

	t.Run("database and debug", func(t *testing.T) {
		t.Setenv("WIDGETRT_DB", "/tmp/w.db")
		t.Setenv("WIDGETRT_DEBUG", "1")
		t.Setenv("WIDGETRT_HOST_MODULE_ROOT", "/src/widgetrt")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/tmp/w.db", cfg.Store.DatabasePath)
		assert.True(t, cfg.Logging.DebugMode)
		assert.Equal(t, "/src/widgetrt", cfg.Pipeline.Go.HostModuleRoot)
	})
}
