package db

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/headless-cms/authserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	upErr, downErr, stepsErr, versionErr error
	steps                                []int
	version                              uint
}

func (f *fakeMigrator) Up() error   { return f.upErr }
func (f *fakeMigrator) Down() error { return f.downErr }
func (f *fakeMigrator) Steps(n int) error {
	f.steps = append(f.steps, n)
	return f.stepsErr
}
func (f *fakeMigrator) Version() (uint, bool, error) { return f.version, false, f.versionErr }
func (f *fakeMigrator) Close() (error, error)        { return nil, nil }

func TestMigratorIgnoresNoChange(t *testing.T) {
	m := &Migrator{m: &fakeMigrator{upErr: migrate.ErrNoChange, downErr: migrate.ErrNoChange}}
	assert.NoError(t, m.Up())
	assert.NoError(t, m.Down(0))
}

func TestMigratorDownSteps(t *testing.T) {
	fake := &fakeMigrator{}
	m := &Migrator{m: fake}
	require.NoError(t, m.Down(2))
	assert.Equal(t, []int{-2}, fake.steps)
}

func TestMigratorWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := &Migrator{m: &fakeMigrator{upErr: boom, versionErr: boom}}
	assert.ErrorIs(t, m.Up(), boom)
	_, _, err := m.Version()
	assert.ErrorIs(t, err, boom)
}

func TestMigratorNilVersion(t *testing.T) {
	m := &Migrator{m: &fakeMigrator{versionErr: migrate.ErrNilVersion}}
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Equal(t, 5, ups)
	assert.Equal(t, ups, downs)
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "cms", Password: "p@ss", DBName: "auth"})
	assert.Equal(t, "postgres://cms:p%40ss@db:5432/auth?sslmode=disable", dsn)

	dsn = DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "cms", DBName: "auth", UseSSL: true})
	assert.Contains(t, dsn, "sslmode=require")
}
