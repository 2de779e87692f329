package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/rumor-ml/commons.systems/tradesync/internal/parser"
)

// Scanner walks directory tree and finds broker export files
type Scanner struct {
	rootDir string
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir}
}

// ScanResult represents a found file with metadata
type ScanResult struct {
	Path     string
	Metadata *parser.Metadata
}

// Scan walks the directory tree and finds all export files in lexical order.
// Hidden files and directories are skipped.
func (s *Scanner) Scan() ([]ScanResult, error) {
	var results []ScanResult

	rootDir, err := s.expandHome(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	err = filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("error accessing %s: %w", path, err)
		}

		if path != rootDir && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !s.isExportFile(path) {
			return nil
		}

		metadata, err := s.extractMetadata(path, rootDir)
		if err != nil {
			return fmt.Errorf("invalid metadata for %s (processed %d files so far): %w", path, len(results), err)
		}
		results = append(results, ScanResult{
			Path:     path,
			Metadata: metadata,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	return results, nil
}

// isExportFile checks if file has an extension tabular can decode
func (s *Scanner) isExportFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt", ".md", ".markdown", ".ofx", ".qfx":
		return true
	}
	return false
}

// extractMetadata derives broker and account from the directory structure.
//
//	{root}/{broker}/{account}/.../file.ext  broker and account from directories
//	{root}/{broker}/file.ext                account is the file stem
//	{root}/file.ext                         account is the file stem, no broker
func (s *Scanner) extractMetadata(filePath, rootDir string) (*parser.Metadata, error) {
	relPath, err := filepath.Rel(rootDir, filePath)
	if err != nil {
		relPath = filePath
	}
	parts := strings.Split(filepath.ToSlash(relPath), "/")

	meta, err := parser.NewMetadata(filePath, time.Now())
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	switch {
	case len(parts) >= 3:
		meta.SetBroker(normalizeName(parts[0]))
		meta.SetAccount(normalizeName(parts[1]))
	case len(parts) == 2:
		meta.SetBroker(normalizeName(parts[0]))
		meta.SetAccount(normalizeName(stem))
	default:
		meta.SetAccount(normalizeName(stem))
	}
	return meta, nil
}

// normalizeName composes Hangul that some filesystems store decomposed, so
// labels built from paths compare equal to labels typed by hand.
func normalizeName(name string) string {
	return strings.TrimSpace(norm.NFC.String(name))
}

// expandHome expands ~ to home directory
func (s *Scanner) expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
