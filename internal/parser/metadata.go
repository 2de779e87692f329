package parser

import (
	"fmt"
	"time"
)

// Metadata contains context about the file being parsed.
// Extracted from directory structure: {root}/{broker}/{account}/file.ext or
// {root}/{broker}/file.ext (the file stem is then the account).
//
// Create instances using NewMetadata(filePath, detectedAt). Broker and account
// are set after construction by the scanner.
type Metadata struct {
	filePath   string
	broker     string // e.g., "미래에셋증권"
	account    string // e.g., "국내계좌"
	detectedAt time.Time
}

// NewMetadata creates a new Metadata instance with validated required fields.
// Returns an error if filePath is empty or detectedAt is zero.
func NewMetadata(filePath string, detectedAt time.Time) (*Metadata, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if detectedAt.IsZero() {
		return nil, fmt.Errorf("detected time cannot be zero")
	}
	return &Metadata{
		filePath:   filePath,
		detectedAt: detectedAt,
	}, nil
}

// FilePath returns the absolute file path
func (m *Metadata) FilePath() string {
	return m.filePath
}

// Broker returns the broker inferred from directory structure.
func (m *Metadata) Broker() string {
	return m.broker
}

// Account returns the account inferred from directory structure.
func (m *Metadata) Account() string {
	return m.account
}

// Label is the account label used to pick the destination: "{broker}_{account}".
// Either part may be missing when the file sits outside the expected layout.
func (m *Metadata) Label() string {
	switch {
	case m.broker == "":
		return m.account
	case m.account == "":
		return m.broker
	}
	return m.broker + "_" + m.account
}

// DetectedAt returns the timestamp when the file was detected
func (m *Metadata) DetectedAt() time.Time {
	return m.detectedAt
}

// SetBroker sets the broker name
func (m *Metadata) SetBroker(broker string) {
	m.broker = broker
}

// SetAccount sets the account name
func (m *Metadata) SetAccount(account string) {
	m.account = account
}

// FileInfo returns a formatted file path string for error messages
func FileInfo(meta *Metadata) string {
	if meta != nil && meta.FilePath() != "" {
		return fmt.Sprintf(" from %s", meta.FilePath())
	}
	return ""
}
