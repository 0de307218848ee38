package appbootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serima/config"
)

const bootSeed = `
regulators:
  - name: ILR
regulations:
  - label: NIS
    regulators: [ILR]
sectors:
  - name: Energy
    acronym: ENE
companies:
  - identifier: ACME
    name: Acme Power
users:
  - username: alice
    groups: [OperatorAdmin]
    companies: [ACME]
`

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(bootSeed), 0o600))
	return &config.AppConfig{
		DBDriver:    "sqlite",
		DBPath:      filepath.Join(dir, "serima.db"),
		ListenAddr:  "127.0.0.1:0",
		PublicURL:   "https://serima.example.lu",
		CatalogSeed: seedPath,
		Email:       config.EmailConfig{Transport: "file", FileDir: filepath.Join(dir, "mail"), Sender: "no-reply@serima.example.lu"},
		Reports:     config.ReportsConfig{ConverterPath: "soffice", TimeoutSec: 5, TempDir: dir},
		Scheduler:   config.SchedulerConfig{Enabled: false},
	}
}

func TestNewImportsSeedAndIssuesSessions(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	app, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	regulators, err := app.runtime.catalog.ListRegulators(ctx)
	require.NoError(t, err)
	require.Len(t, regulators, 1)

	sess, err := app.IssueSession(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, sess.ActiveCompanyID)
	assert.NotEmpty(t, sess.CSRFToken)

	_, err = app.IssueSession(ctx, "mallory")
	assert.Error(t, err)
	assert.Len(t, app.runtime.serverDeps.Workers, 2)
}

func TestNewSkipsSeedOnSecondStart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer second.Close()
	regulators, err := second.runtime.catalog.ListRegulators(ctx)
	require.NoError(t, err)
	assert.Len(t, regulators, 1)
}
