package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDriver(t *testing.T) {
	tests := []struct {
		in      string
		want    Driver
		wantErr bool
	}{
		{"", DriverFile, false},
		{"FILE", DriverFile, false},
		{" sqlite ", DriverSQLite, false},
		{"postgresql", DriverPostgres, false},
		{"redis", DriverRedis, false},
		{"memory", DriverMemory, false},
		{"mongo", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDriver(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownDriver)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_LocalDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfgs := map[string]Config{
		"file":   {Driver: DriverFile, Dir: filepath.Join(dir, "subs")},
		"sqlite": {Driver: DriverSQLite, SQLitePath: filepath.Join(dir, "subs.db")},
		"memory": {Driver: DriverMemory},
	}
	for name, cfg := range cfgs {
		t.Run(name, func(t *testing.T) {
			opened, err := Open(ctx, cfg)
			require.NoError(t, err)
			defer opened.Close()

			assert.Equal(t, cfg.Driver, opened.Driver)
			require.NoError(t, opened.Ping(ctx))

			sub, err := opened.CreateIfAbsent(ctx, "7", time.Now())
			require.NoError(t, err)
			assert.Equal(t, int64(1), sub.Version)
		})
	}
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{Driver: DriverRedis}
	cfg.Redis.URL = "redis://" + mr.Addr()

	opened, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer opened.Close()

	assert.NotNil(t, opened.Redis)
	ids, err := opened.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "tape"})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
