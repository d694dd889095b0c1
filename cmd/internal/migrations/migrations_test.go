package migrations

import (
	"io/fs"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	t.Parallel()

	got, err := driverURL("postgres://u:p@db:5432/motion?sslmode=disable", "tenant_a")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "pgx5", u.Scheme)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "tenant_a", u.Query().Get("search_path"))
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "schema_migrations", u.Query().Get("x-migrations-table"))

	_, err = driverURL("mysql://u:p@db/motion", "motion")
	assert.Error(t, err)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	t.Parallel()

	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case len(name) > 7 && name[len(name)-7:] == ".up.sql":
			ups[name[:len(name)-7]] = true
		case len(name) > 9 && name[len(name)-9:] == ".down.sql":
			downs[name[:len(name)-9]] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}
