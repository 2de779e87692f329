// Package tabular decodes broker export files into a header row plus data rows.
//
// Exports arrive as comma-separated text, tab-separated text (often saved with a
// .md extension), GFM pipe tables, or OFX documents. Legacy Korean exports are
// frequently CP949; anything that is not valid UTF-8 is decoded as EUC-KR.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/unicode/norm"
)

// Format identifies how a file was decoded.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatTSV      Format = "tsv"
	FormatMarkdown Format = "markdown"
	FormatOFX      Format = "ofx"
)

// Table is a decoded export. Header is the first content row; Rows are the
// remaining rows in file order, including any format-specific sub-header.
// Raw holds the UTF-8 text for formats that are not row-oriented.
type Table struct {
	Name   string
	Format Format
	Header []string
	Rows   [][]string
	Raw    []byte
}

var pipeDelimiterRow = regexp.MustCompile(`(?m)^\s*\|?\s*:?-+:?\s*(\|\s*:?-+:?\s*)+\|?\s*$`)

// Read loads and decodes the file at path.
func Read(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Decode(filepath.Base(path), data)
}

// Decode converts raw file bytes into a Table. name is only used for its
// extension and for error messages.
func Decode(name string, data []byte) (*Table, error) {
	content, err := toUTF8(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}

	var t *Table
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ofx", ".qfx":
		t = &Table{Format: FormatOFX, Header: []string{firstLine(content)}, Raw: []byte(content)}
	case ".md", ".markdown":
		if pipeDelimiterRow.MatchString(content) {
			if mt, mdErr := decodeMarkdown(content); mdErr == nil && mt != nil {
				t = mt
				break
			}
		}
		t = decodeTSV(content)
	case ".tsv":
		t = decodeTSV(content)
	default:
		if line := firstLine(content); strings.Contains(line, "\t") && !strings.Contains(line, ",") {
			t = decodeTSV(content)
			break
		}
		t, err = decodeCSV(content)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	t.Name = name
	return t, nil
}

func toUTF8(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := korean.EUCKR.NewDecoder().Bytes(data)
		if err != nil {
			return "", err
		}
		data = decoded
	}
	return norm.NFC.String(string(data)), nil
}

func firstLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}

func decodeCSV(content string) (*Table, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	t := &Table{Format: FormatCSV}
	split(t, records)
	return t, nil
}

func decodeTSV(content string) *Table {
	var records [][]string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		records = append(records, strings.Split(line, "\t"))
	}
	t := &Table{Format: FormatTSV}
	split(t, records)
	return t
}

func split(t *Table, records [][]string) {
	if len(records) == 0 {
		return
	}
	t.Header = records[0]
	t.Rows = records[1:]
}

// decodeMarkdown returns the first GFM table in the document, or nil when the
// document has none.
func decodeMarkdown(content string) (*Table, error) {
	src := []byte(content)
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	doc := md.Parser().Parse(text.NewReader(src))

	var found *east.Table
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if tbl, ok := n.(*east.Table); ok {
			found = tbl
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, nil
	}

	t := &Table{Format: FormatMarkdown}
	for row := found.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, strings.TrimSpace(nodeText(cell, src)))
		}
		switch row.(type) {
		case *east.TableHeader:
			t.Header = cells
		case *east.TableRow:
			t.Rows = append(t.Rows, cells)
		}
	}
	return t, nil
}

func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
			if v.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		default:
			b.WriteString(nodeText(c, src))
		}
	}
	return b.String()
}
