// javacomplete/config_watcher_test.go
package javacomplete

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), defaultConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"next_span": 5}`), 0o644))

	reloaded := make(chan Config, 4)
	watcher, err := WatchConfigFile(path, func(cfg Config) error {
		reloaded <- cfg
		return nil
	}, discardLogger())
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"next_span": 9, "auto_import": false}`), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.NextSpan)
		assert.False(t, cfg.AutoImport)
		assert.Equal(t, defaultPrevSpan, cfg.PrevSpan, "unset fields come from the defaults")
		assert.Equal(t, time.Duration(defaultSyncTimeoutMillis)*time.Millisecond, cfg.SyncTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not reported")
	}
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, defaultConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	reloaded := make(chan Config, 1)
	watcher, err := WatchConfigFile(path, func(cfg Config) error {
		reloaded <- cfg
		return nil
	}, discardLogger())
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{"next_span": 1}`), 0o644))
	select {
	case <-reloaded:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(4 * configReloadDebounce):
	}
}

func TestConfigWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), defaultConfigFileName)
	var got []Config
	cw := &ConfigWatcher{
		path: path,
		onReload: func(cfg Config) error {
			got = append(got, cfg)
			return nil
		},
		logger: discardLogger(),
	}

	require.NoError(t, cw.reload(), "a missing file keeps the current configuration")
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(path, []byte(`{"service_url": `), 0o644))
	err := cw.reload()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(path, []byte(`{"service_url": "ftp://analyzer"}`), 0o644))
	err = cw.reload()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(path, []byte(`{"service_url": "http://analyzer:4000"}`), 0o644))
	require.NoError(t, cw.reload())
	require.Len(t, got, 1)
	assert.Equal(t, "http://analyzer:4000", got[0].ServiceURL)

	cw.onReload = func(Config) error { return errors.New("rejected") }
	assert.ErrorContains(t, cw.reload(), "rejected")
}

func TestWatchConfigFile_MissingDirectory(t *testing.T) {
	_, err := WatchConfigFile(filepath.Join(t.TempDir(), "absent", defaultConfigFileName), nil, discardLogger())
	assert.Error(t, err)
}
