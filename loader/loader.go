package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/poiesic/contractor/core"
)

// DefaultInclude selects plain text and markdown files at any depth.
var DefaultInclude = []string{"**/*.txt", "**/*.md"}

// Manifest column headers.
const (
	FileNameColumn = "File Name"
	TextColumn     = "Text"
)

// Options selects files for LoadDir. Patterns match slash separated paths
// relative to the root. Exclude wins over Include.
type Options struct {
	Include []string
	Exclude []string
}

// LoadDir reads every selected file under root, in lexical path order.
func LoadDir(root string, opts Options) ([]*core.Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	include := opts.Include
	if len(include) == 0 {
		include = DefaultInclude
	}

	var docs []*core.Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && matchAny(opts.Exclude, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchAny(include, rel) || matchAny(opts.Exclude, rel) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, &core.Document{
			ID:   core.IDFromSource(rel),
			Text: Normalize(string(data)),
			Metadata: core.Metadata{
				Source: rel,
				Extra:  map[string]string{"file_name": d.Name()},
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// LoadManifest reads a CSV manifest with a header row containing "File Name"
// and "Text". Rows with blank text are skipped; ids are doc_<row>_<name>
// where row counts data rows from zero.
func LoadManifest(r io.Reader) ([]*core.Document, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty manifest", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest header: %w", err)
	}
	nameCol, textCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case FileNameColumn:
			nameCol = i
		case TextColumn:
			textCol = i
		}
	}
	if nameCol < 0 || textCol < 0 {
		return nil, fmt.Errorf("%w: need %q and %q", ErrMissingColumn, FileNameColumn, TextColumn)
	}

	var docs []*core.Document
	for row := 0; ; row++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read manifest row %d: %w", row, err)
		}
		name, text := field(record, nameCol), Normalize(field(record, textCol))
		if text == "" {
			continue
		}
		docs = append(docs, &core.Document{
			ID:   core.IDFromManifestRow(row, name),
			Text: text,
			Metadata: core.Metadata{
				Source: name,
				Extra:  map[string]string{"file_name": name, "row": fmt.Sprint(row)},
			},
		})
	}
	return docs, nil
}

// LoadManifestFile opens path and calls LoadManifest.
func LoadManifestFile(path string) ([]*core.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadManifest(f)
}

func field(record []string, i int) string {
	if i < len(record) {
		return record[i]
	}
	return ""
}
