//go:build unit

package postgres

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRequiresPrimaryDSN(t *testing.T) {
	c := &Connection{}
	assert.ErrorIs(t, c.Connect(context.Background()), ErrPrimaryDSNRequired)

	_, err := c.DB()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Migrate(context.Background()), ErrNotConnected)
	assert.NoError(t, c.Close())

	_, err = NewStore(c)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInitDefaultsReusesPrimaryForReplica(t *testing.T) {
	c := &Connection{PrimaryDSN: "postgres://vault@localhost/vault"}
	c.initDefaults()

	assert.Equal(t, c.PrimaryDSN, c.ReplicaDSN)
	assert.Equal(t, defaultMaxOpenConns, c.MaxOpenConns)
	assert.Equal(t, defaultMaxIdleConns, c.MaxIdleConns)
	assert.NotNil(t, c.Logger)
}

func TestSanitizeSensitiveError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"url credentials", errors.New("dial postgres://vault:secret@db:5432/vault failed"), "dial postgres://***@db:5432/vault failed"},
		{"keyword password", errors.New("host=db password=hunter2 user=vault"), "host=db password=*** user=vault"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeSensitiveError(tt.err))
		})
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrations, "migrations")
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}

	for _, base := range []string{"000001_create_vaults", "000002_create_vault_accounts", "000003_create_vault_events"} {
		assert.True(t, names[base+".up.sql"], base+" up")
		assert.True(t, names[base+".down.sql"], base+" down")
	}
}
