package gamify

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progresskit/adapters/jsonfile"
	mem "progresskit/adapters/memory"
	redisAdapter "progresskit/adapters/redis"
	sqlxAdapter "progresskit/adapters/sqlx"
	appconfig "progresskit/config"
)

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()
	cfg := appconfig.DefaultConfig().Storage

	s, err := OpenStorage(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &mem.Store{}, s)

	cfg.Adapter = appconfig.AdapterFile
	cfg.File.Path = filepath.Join(t.TempDir(), "state.json")
	s, err = OpenStorage(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &jsonfile.Store{}, s)

	mr := miniredis.RunT(t)
	cfg.Adapter = appconfig.AdapterRedis
	cfg.Redis.Addr = mr.Addr()
	s, err = OpenStorage(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &redisAdapter.Store{}, s)
	require.NoError(t, s.(io.Closer).Close())

	cfg.Adapter = appconfig.AdapterSQL
	cfg.SQL.DSN = "file:" + filepath.Join(t.TempDir(), "p.db")
	s, err = OpenStorage(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &sqlxAdapter.Store{}, s)
	require.NoError(t, s.(io.Closer).Close())

	cfg.Adapter = "bogus"
	_, err = OpenStorage(ctx, cfg)
	assert.Error(t, err)
}
