package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/contractor"
	"github.com/poiesic/contractor/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leaseText = `This Lease Agreement is made between Acme Holdings Ltd and Blue River Traders.
The monthly rent is Rs. 45,000 payable in advance. Either party may terminate with 60 days notice.`

const serviceText = `This Service Agreement covers software maintenance by Northwind Systems for Contoso.
Fees of USD 12,000 are invoiced quarterly and the term renews automatically each year.`

type harness struct {
	t         *testing.T
	dir       string
	cfgPath   string
	generator *mock.MockGenerator
	embedder  *mock.MockEmbedder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(data, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "lease.txt"), []byte(leaseText), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(data, "service.txt"), []byte(serviceText), 0644))

	cfgPath := filepath.Join(dir, "contractor.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"db_path: "+filepath.Join(dir, "db")+"\n"+
			"data_dir: "+data+"\n"+
			"chunk_size: 16\n"+
			"chunk_overlap: 4\n"), 0644))

	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	return &harness{
		t:         t,
		dir:       dir,
		cfgPath:   cfgPath,
		generator: mock.NewMockGenerator(),
		embedder:  mock.NewMockEmbedder(),
	}
}

// run executes one CLI invocation and returns its stdout.
func (h *harness) run(stdin string, args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader(stdin)
	app.Metadata = map[string]any{
		metaDBOptions: []contractor.DatabaseOption{
			contractor.WithProvider(mock.NewMockProviderWithServices(h.embedder, h.generator)),
		},
	}
	full := append([]string{"contractor", "--config", h.cfgPath, "--log-level", "error"}, args...)
	err := app.RunContext(context.Background(), full)
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run("", args...)
	require.NoError(h.t, err)
	return out
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := newLogger(io.Discard, tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Enabled(context.Background(), tt.want))
			assert.False(t, logger.Enabled(context.Background(), tt.want-1))
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	app := newApp()
	for _, name := range []string{"serve", "ingest", "populate", "query", "extract", "status", "delete", "reset", "reembed"} {
		assert.NotNil(t, app.Command(name), name)
	}
}

func TestCLI_InvalidLogLevel(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("", "--log-level", "chatty", "status")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestCLI_IngestQueryStatusDelete(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("ingest")
	assert.Contains(t, out, "Ingested 2 of 2 documents (created 2, updated 0, unchanged 0), 0 failed")

	out = h.mustRun("ingest")
	assert.Contains(t, out, "unchanged 2")

	out = h.mustRun("query", "--top-k", "1", "monthly", "rent", "payable")
	assert.Contains(t, out, "1. [")
	assert.Contains(t, out, "lease.txt")

	out = h.mustRun("query", "--json", "software maintenance")
	assert.Contains(t, out, `"QueryEcho": "software maintenance"`)

	out = h.mustRun("status")
	assert.Contains(t, out, "Backend:")
	assert.Contains(t, out, "badger")
	assert.Regexp(t, `Documents:\s+2`, out)
	assert.Contains(t, out, "indexed:")

	out = h.mustRun("status", "lease.txt")
	assert.Contains(t, out, `"state": "indexed"`)

	out = h.mustRun("delete", "lease.txt")
	assert.Contains(t, out, "Deleted lease.txt")

	_, err := h.run("", "delete", "lease.txt")
	assert.Error(t, err)

	_, err = h.run("", "delete")
	assert.ErrorContains(t, err, "document id is required")
}

func TestCLI_IngestManifest(t *testing.T) {
	h := newHarness(t)
	manifest := filepath.Join(h.dir, "contracts.csv")
	require.NoError(t, os.WriteFile(manifest, []byte("File Name,Text\nlease.pdf,\""+leaseText+"\"\nempty.pdf,\n"), 0644))

	out := h.mustRun("ingest", "--manifest", manifest)
	assert.Contains(t, out, "Ingested 1 of 1 documents")
}

func TestCLI_QueryEmptyIndex(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("query", "anything")
	assert.Contains(t, out, "Index is empty")

	_, err := h.run("", "query")
	assert.ErrorContains(t, err, "query text is required")
}

func TestCLI_Populate(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("populate")
	assert.Contains(t, out, "Ingested 2 of 2")

	out = h.mustRun("populate")
	assert.Contains(t, out, "skipping")

	out = h.mustRun("populate", "--force")
	assert.Contains(t, out, "created 2")
}

func TestCLI_Extract(t *testing.T) {
	h := newHarness(t)
	h.mustRun("ingest")
	h.generator.Reply = "```json\n{\"agreement_value\": \"Rs. 45,000\", \"renewal_notice_days\": \"60 days\", \"party_one\": \"Acme Holdings Ltd\",}\n```"

	path := filepath.Join(h.dir, "contract.txt")
	require.NoError(t, os.WriteFile(path, []byte(leaseText), 0644))

	out := h.mustRun("extract", path)
	assert.Contains(t, out, `"agreement_value": 45000`)
	assert.Contains(t, out, `"renewal_notice_days": 60`)
	assert.Contains(t, out, `"rag_enabled": true`)
	prompts := h.generator.Prompts()
	require.NotEmpty(t, prompts)
	assert.Contains(t, prompts[len(prompts)-1], "Similar Contract Examples")

	out, err := h.run(leaseText, "extract", "--no-rag")
	require.NoError(t, err)
	assert.Contains(t, out, `"rag_enabled": false`)

	_, err = h.run("short", "extract")
	assert.Error(t, err)
}

func TestCLI_Reset(t *testing.T) {
	h := newHarness(t)
	h.mustRun("ingest")

	_, err := h.run("", "reset")
	assert.ErrorContains(t, err, "--yes")

	out := h.mustRun("reset", "--yes")
	assert.Contains(t, out, "Index reset")

	out = h.mustRun("query", "rent")
	assert.Contains(t, out, "Index is empty")
}

func TestCLI_Reembed(t *testing.T) {
	h := newHarness(t)
	h.mustRun("ingest")

	h.embedder.Dimension = 24
	out := h.mustRun("reembed")
	assert.Contains(t, out, "dimension 64 -> 24")

	out = h.mustRun("query", "quarterly", "fees")
	assert.Contains(t, out, "service.txt")
}

func TestCLI_LogFile(t *testing.T) {
	h := newHarness(t)
	logPath := filepath.Join(h.dir, "contractor.log")
	t.Setenv("LOG_FILE", logPath)

	_, err := h.run("", "--log-level", "info", "status")
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "database opened")
}
