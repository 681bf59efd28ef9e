package contractor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/contractor/ai/mock"
	"github.com/poiesic/contractor/config"
	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const leaseText = `This Lease Agreement is made between Acme Holdings Ltd and Blue River Traders.
The monthly rent is Rs. 45,000 payable in advance. The lease commences on 01/04/2023
and ends on 31/03/2026. Either party may terminate with 60 days written notice.`

func newTestDatabase(t *testing.T, cfg *config.Config) (*Database, *mock.MockProvider) {
	t.Helper()
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), mock.NewMockGenerator()).(*mock.MockProvider)
	db, err := NewDatabase(cfg, WithInMemory(), WithProvider(provider))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, provider
}

func TestNewDatabase(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		db, _ := newTestDatabase(t, nil)
		assert.NotNil(t, db.Index())
		assert.NotNil(t, db.Documents())
		assert.NotNil(t, db.Provider())
		assert.Equal(t, config.Default().TopKDefault, db.Config().TopKDefault)
		assert.Equal(t, core.MetricCosine, db.Index().Metric())
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.Default()
		cfg.ChunkOverlap = cfg.ChunkSize
		db, err := NewDatabase(cfg, WithInMemory(), WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, core.ErrConfiguration)
		assert.Nil(t, db)
	})

	t.Run("badger path is a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(path, []byte("test"), 0644))

		cfg := config.Default()
		cfg.DBPath = path
		db, err := NewDatabase(cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, core.ErrIndexUnavailable)
		assert.Nil(t, db)
	})
}

func TestDatabase_PersistsAcrossReopen(t *testing.T) {
	for _, backend := range []string{config.BackendBadger, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			cfg := config.Default()
			cfg.DBBackend = backend
			cfg.DBPath = filepath.Join(t.TempDir(), "db")

			db, err := NewDatabase(cfg, WithProvider(mock.NewMockProvider()))
			require.NoError(t, err)
			orch, err := db.NewOrchestrator()
			require.NoError(t, err)
			out, err := orch.Ingest(ctx, &core.Document{ID: "lease", Text: leaseText})
			require.NoError(t, err)
			assert.Equal(t, ingestion.StatusCreated, out.Status)
			orch.Release()
			require.NoError(t, db.Close())

			db, err = NewDatabase(cfg, WithProvider(mock.NewMockProvider()))
			require.NoError(t, err)
			defer db.Close()

			stats, err := db.Index().Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, backend, stats.Backend)
			assert.Equal(t, len(out.ChunkIDs), stats.Live)

			rec, err := db.Documents().GetDocument(ctx, "lease")
			require.NoError(t, err)
			assert.Equal(t, core.StateIndexed, rec.State)
		})
	}
}

func TestDatabase_IngestQueryExtract(t *testing.T) {
	ctx := context.Background()
	db, provider := newTestDatabase(t, nil)

	orch, err := db.NewOrchestrator()
	require.NoError(t, err)
	defer orch.Release()
	_, err = orch.Ingest(ctx, &core.Document{ID: "lease", Text: leaseText, Metadata: core.Metadata{Source: "lease.txt"}})
	require.NoError(t, err)

	retriever, err := db.NewRetriever()
	require.NoError(t, err)
	res, err := retriever.Query(ctx, core.Query{Text: "monthly rent payable in advance"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, core.DocumentID("lease"), res.Results[0].Chunk.DocumentID)

	provider.GetMockGenerator().Reply = `{"agreement_value": "Rs. 45,000", "agreement_start_date": "01/04/2023",
		"agreement_end_date": null, "renewal_notice_days": "60 days", "party_one": "Acme Holdings Ltd", "party_two": null}`

	extractor, err := db.NewExtractor(retriever)
	require.NoError(t, err)
	got, err := extractor.Extract(ctx, leaseText, true)
	require.NoError(t, err)
	require.NotNil(t, got.Data)
	assert.True(t, got.RAGEnabled)
	require.NotNil(t, got.Data.RenewalNoticeDays)
	assert.Equal(t, 60, *got.Data.RenewalNoticeDays)
	require.NotNil(t, got.Data.PartyOne)
	assert.Equal(t, "Acme Holdings Ltd", *got.Data.PartyOne)

	prompts := provider.GetMockGenerator().Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "lease.txt")
}

func TestDatabase_ExtractorWithoutSearcher(t *testing.T) {
	db, provider := newTestDatabase(t, nil)

	extractor, err := db.NewExtractor(nil)
	require.NoError(t, err)
	got, err := extractor.Extract(context.Background(), leaseText, true)
	require.NoError(t, err)
	assert.True(t, got.RAGEnabled, "the flag echoes the request")
	assert.Empty(t, got.Contexts)
	assert.NotContains(t, provider.GetMockGenerator().Prompts()[0], "Similar Contract Examples")
}

func TestDatabase_Reembed(t *testing.T) {
	ctx := context.Background()
	db, provider := newTestDatabase(t, nil)

	orch, err := db.NewOrchestrator()
	require.NoError(t, err)
	defer orch.Release()
	_, err = orch.Ingest(ctx, &core.Document{ID: "lease", Text: leaseText})
	require.NoError(t, err)

	provider.GetMockEmbedder().Dimension = 32
	var out bytes.Buffer
	r, err := db.NewReembedder(&out)
	require.NoError(t, err)
	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, mock.DefaultDimension, summary.OldDimension)
	assert.Equal(t, 32, summary.NewDimension)

	retriever, err := db.NewRetriever()
	require.NoError(t, err)
	res, err := retriever.Query(ctx, core.Query{Text: "written notice"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)
}

func TestDatabase_LoadDocuments(t *testing.T) {
	ctx := context.Background()

	t.Run("data dir", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "lease.txt"), []byte(leaseText), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("ignored"), 0644))

		cfg := config.Default()
		cfg.DataDir = dir
		db, _ := newTestDatabase(t, cfg)

		docs, err := db.LoadDocuments(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "lease.txt", docs[0].Metadata.Source)
	})

	t.Run("manifest wins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "contracts.csv")
		require.NoError(t, os.WriteFile(path, []byte("File Name,Text\nlease.pdf,\"Rent is due monthly, in advance.\"\n"), 0644))

		cfg := config.Default()
		cfg.DataDir = filepath.Join(t.TempDir(), "missing")
		cfg.ManifestPath = path
		db, _ := newTestDatabase(t, cfg)

		docs, err := db.LoadDocuments(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "lease.pdf", docs[0].Metadata.Source)
	})

	t.Run("missing data dir", func(t *testing.T) {
		cfg := config.Default()
		cfg.DataDir = filepath.Join(t.TempDir(), "missing")
		db, _ := newTestDatabase(t, cfg)

		_, err := db.LoadDocuments(ctx)
		assert.Error(t, err)
	})
}
