package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alem-hub/daily-lessons/internal/domain/subscriber"
	"github.com/alem-hub/daily-lessons/internal/infrastructure/persistence/storetest"
)

// Runs only against a disposable database: TEST_DATABASE_URL=postgres://...
func TestSubscriberRepository_Conformance(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	conn, err := NewConnectionFromURL(ctx, url, DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	require.NoError(t, NewMigrator(conn).Migrate(ctx))

	storetest.Run(t, func(t *testing.T) subscriber.Store {
		_, err := conn.Exec(ctx, `TRUNCATE subscribers`)
		require.NoError(t, err)
		return NewSubscriberRepository(conn)
	})
}

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		require.Equal(t, i+1, m.Version)
		require.NotEmpty(t, m.UpSQL)
		require.NotEmpty(t, m.DownSQL)
	}
}
