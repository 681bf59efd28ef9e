package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/poiesic/contractor"
	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/extraction"
	"github.com/poiesic/contractor/ingestion"
	"github.com/poiesic/contractor/server"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
)

func serveCommand(c *cli.Context) error {
	cfg := loadedConfig(c)
	if addr := c.String("addr"); addr != "" {
		cfg.HTTPAddr = addr
	}

	db, err := openDatabase(c, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	orch, err := db.NewOrchestrator()
	if err != nil {
		return err
	}
	defer orch.Release()

	retriever, err := db.NewRetriever()
	if err != nil {
		return err
	}
	extractor, err := db.NewExtractor(retriever)
	if err != nil {
		return err
	}

	srv, err := server.New(orch, retriever, db.Index(),
		server.WithExtractor(extractor),
		server.WithSource(db.LoadDocuments),
		server.WithProviderName(db.Provider().Name()),
		server.WithLogger(db.Logger()),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx, cfg.HTTPAddr)
}

func ingestCommand(c *cli.Context) error {
	cfg := loadedConfig(c)
	if dir := c.Args().First(); dir != "" {
		cfg.DataDir = dir
		cfg.ManifestPath = ""
	}
	if manifest := c.String("manifest"); manifest != "" {
		cfg.ManifestPath = manifest
	}

	db, err := openDatabase(c, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return ingestAll(c, db)
}

func populateCommand(c *cli.Context) error {
	ctx := c.Context
	db, err := openDatabase(c, loadedConfig(c))
	if err != nil {
		return err
	}
	defer db.Close()

	live, err := db.Index().LiveCount(ctx)
	if err != nil {
		return err
	}
	if live > 0 && !c.Bool("force") {
		fmt.Fprintf(c.App.Writer, "Index already holds %d entries, skipping (use --force to rebuild)\n", live)
		return nil
	}
	if c.Bool("force") {
		if err := resetAll(ctx, db); err != nil {
			return err
		}
	}
	return ingestAll(c, db)
}

func ingestAll(c *cli.Context, db *contractor.Database) error {
	ctx := c.Context
	docs, err := db.LoadDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Fprintln(c.App.Writer, "No documents found")
		return nil
	}

	orch, err := db.NewOrchestrator()
	if err != nil {
		return err
	}
	defer orch.Release()

	bar := newProgressBar(c.App.ErrWriter, len(docs), "[cyan]Ingesting[reset]")
	result, err := orch.IngestBatch(ctx, docs, func(processed, total int, _ core.DocumentID) {
		_ = bar.Set(processed)
	})
	if err != nil {
		return err
	}

	counts := make(map[ingestion.Status]int)
	for _, out := range result.Outcomes {
		counts[out.Status]++
	}
	fmt.Fprintf(c.App.Writer, "Ingested %d of %d documents (created %d, updated %d, unchanged %d), %d failed\n",
		len(result.Outcomes), len(docs),
		counts[ingestion.StatusCreated], counts[ingestion.StatusUpdated], counts[ingestion.StatusUnchanged],
		len(result.Failures))
	for _, f := range result.Failures {
		fmt.Fprintf(c.App.Writer, "  %s: %v\n", f.DocumentID, f.Err)
	}
	if len(result.Failures) == len(docs) {
		return fmt.Errorf("all %d documents failed", len(docs))
	}
	return nil
}

func newProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	if w == nil {
		w = os.Stderr
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription(description),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

func queryCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("query text is required")
	}

	db, err := openDatabase(c, loadedConfig(c))
	if err != nil {
		return err
	}
	defer db.Close()

	retriever, err := db.NewRetriever()
	if err != nil {
		return err
	}

	q := core.Query{
		Text:      text,
		TopK:      c.Int("top-k"),
		MinScore:  float32(c.Float64("min-score")),
		Neighbors: c.Int("neighbors"),
	}
	for _, id := range c.StringSlice("doc") {
		q.Filter.DocumentIDs = append(q.Filter.DocumentIDs, core.DocumentID(id))
	}

	res, err := retriever.Query(c.Context, q)
	switch {
	case errors.Is(err, core.ErrEmptyIndex):
		fmt.Fprintln(c.App.Writer, "Index is empty, run ingest or populate first")
		return nil
	case errors.Is(err, core.ErrNoMatch):
		fmt.Fprintln(c.App.Writer, "No matches")
		return nil
	case err != nil:
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for i, hit := range res.Results {
		source := hit.Source
		if source == "" {
			source = string(hit.Chunk.DocumentID)
		}
		fmt.Fprintf(c.App.Writer, "%d. [%.4f] %s (%s)\n", i+1, hit.Score, source, hit.Chunk.ID)
		fmt.Fprintf(c.App.Writer, "   %s\n", oneLine(hit.Chunk.Text, 160))
		for _, n := range hit.Context {
			fmt.Fprintf(c.App.Writer, "   ~ #%d %s\n", n.Seq, oneLine(n.Text, 120))
		}
	}
	return nil
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func extractCommand(c *cli.Context) error {
	var (
		data []byte
		err  error
	)
	if path := c.Args().First(); path != "" {
		data, err = os.ReadFile(path)
	} else {
		in := c.App.Reader
		if in == nil {
			in = os.Stdin
		}
		data, err = io.ReadAll(in)
	}
	if err != nil {
		return fmt.Errorf("failed to read contract text: %w", err)
	}

	db, err := openDatabase(c, loadedConfig(c))
	if err != nil {
		return err
	}
	defer db.Close()

	useRAG := !c.Bool("no-rag")
	var searcher extraction.Searcher
	if useRAG {
		if searcher, err = db.NewRetriever(); err != nil {
			return err
		}
	}
	extractor, err := db.NewExtractor(searcher)
	if err != nil {
		return err
	}

	res, err := extractor.Extract(c.Context, string(data), useRAG)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func statusCommand(c *cli.Context) error {
	ctx := c.Context
	db, err := openDatabase(c, loadedConfig(c))
	if err != nil {
		return err
	}
	defer db.Close()

	if id := c.Args().First(); id != "" {
		rec, err := db.Documents().GetDocument(ctx, core.DocumentID(id))
		if err != nil {
			return fmt.Errorf("document %s: %w", id, err)
		}
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	stats, err := db.Index().Stats(ctx)
	if err != nil {
		return err
	}
	records, err := db.Documents().ListDocuments(ctx)
	if err != nil {
		return err
	}
	states := make(map[core.DocumentState]int)
	for _, rec := range records {
		states[rec.State]++
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Backend:\t%s\n", stats.Backend)
	fmt.Fprintf(w, "Metric:\t%s\n", stats.Metric)
	fmt.Fprintf(w, "Search mode:\t%s\n", stats.Mode)
	fmt.Fprintf(w, "Dimension:\t%d\n", stats.Dimension)
	fmt.Fprintf(w, "Entries:\t%d\n", stats.Entries)
	fmt.Fprintf(w, "Live entries:\t%d\n", stats.Live)
	fmt.Fprintf(w, "Documents:\t%d\n", len(records))
	for _, st := range []core.DocumentState{core.StateIndexed, core.StatePending, core.StateChunking, core.StateEmbedding, core.StateFailed} {
		if n := states[st]; n > 0 {
			fmt.Fprintf(w, "  %s:\t%d\n", st, n)
		}
	}
	return w.Flush()
}

func deleteCommand(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return errors.New("document id is required")
	}
	db, err := openDatabase(c, loadedConfig(c))
	if err != nil {
		return err
	}
	defer db.Close()

	orch, err := db.NewOrchestrator()
	if err != nil {
		return err
	}
	defer orch.Release()

	n, err := orch.Delete(c.Context, core.DocumentID(id))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Deleted %s (%d chunks)\n", id, n)
	return nil
}

func resetCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("reset removes every document; pass --yes to confirm")
	}
	db, err := openDatabase(c, loadedConfig(c))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := resetAll(c.Context, db); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Index reset")
	return nil
}

func resetAll(ctx context.Context, db *contractor.Database) error {
	orch, err := db.NewOrchestrator()
	if err != nil {
		return err
	}
	defer orch.Release()
	return orch.Reset(ctx)
}

func reembedCommand(c *cli.Context) error {
	cfg := loadedConfig(c)
	db, err := openDatabase(c, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := db.NewReembedder(c.App.ErrWriter)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Database: %s (%s)\n", cfg.DBPath, cfg.DBBackend)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.EmbeddingModel)
	fmt.Fprintln(c.App.ErrWriter)

	summary, err := r.Run(c.Context)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Re-embedded %d entries, dimension %d -> %d\n",
		summary.Entries, summary.OldDimension, summary.NewDimension)
	return nil
}
