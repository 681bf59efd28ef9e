// Package loader reads contract texts from disk into core.Documents.
//
// LoadDir walks a directory tree and picks files by doublestar glob;
// LoadManifest reads a CSV export with "File Name" and "Text" columns.
// Both run every text through Normalize so the same contract always hashes
// to the same content.
package loader
