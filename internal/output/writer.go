package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Plan is the machine-readable account of a run: what was (or, in dry-run
// mode, would be) written where.
type Plan struct {
	RunID        string        `json:"runId"`
	DryRun       bool          `json:"dryRun"`
	GeneratedAt  time.Time     `json:"generatedAt"`
	Destinations []Destination `json:"destinations"`
	Files        []File        `json:"files"`
	Dashboard    string        `json:"dashboard"`
}

// Destination is the outcome for one sheet.
type Destination struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Created     bool   `json:"created"`
	Range       string `json:"range,omitempty"`
	StartRow    int    `json:"startRow,omitempty"`
	EndRow      int    `json:"endRow,omitempty"`
	New         int    `json:"new"`
	Duplicates  int    `json:"duplicates"`
	Invalid     int    `json:"invalid"`
	FirstColumn string `json:"firstColumn,omitempty"`
	LastColumn  string `json:"lastColumn,omitempty"`
	Error       string `json:"error,omitempty"`
}

// File is the outcome for one input file.
type File struct {
	Path     string `json:"path"`
	Parser   string `json:"parser,omitempty"`
	Status   string `json:"status"`
	Trades   int    `json:"trades"`
	Rejected int    `json:"rejected"`
}

// WriteOptions configures where the plan is written
type WriteOptions struct {
	FilePath string // Output path (empty = stdout)
}

// WritePlan serializes the plan to JSON with 2-space indentation
func WritePlan(plan *Plan, w io.Writer) error {
	if plan == nil {
		return fmt.Errorf("plan cannot be nil")
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(plan); err != nil {
		return fmt.Errorf("failed to encode plan as JSON: %w", err)
	}

	return nil
}

// WritePlanToFile writes the plan to file or stdout based on options
func WritePlanToFile(plan *Plan, opts WriteOptions) (err error) {
	if plan == nil {
		return fmt.Errorf("plan cannot be nil")
	}

	if opts.FilePath == "" {
		return WritePlan(plan, os.Stdout)
	}

	f, err := os.Create(opts.FilePath)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", opts.FilePath, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close output file %s: %w", opts.FilePath, closeErr)
		}
	}()

	if err = WritePlan(plan, f); err != nil {
		return fmt.Errorf("failed to write plan to %s: %w", opts.FilePath, err)
	}

	return nil
}

// LoadPlan reads a plan written by WritePlanToFile
func LoadPlan(filePath string) (*Plan, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	f, err := os.Open(filePath)
	if err != nil {
		// Return unwrapped error so caller can check os.IsNotExist
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close %s: %v\n", filePath, closeErr)
		}
	}()

	var plan Plan
	if err := json.NewDecoder(f).Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan JSON: %w", err)
	}

	return &plan, nil
}
