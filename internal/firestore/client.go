package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
)

const (
	categoriesCollection = "tradesync-categories"
	runsCollection       = "tradesync-runs"
)

// Client wraps Firestore client with tradesync-specific operations
type Client struct {
	Firestore *firestore.Client
	Auth      *auth.Client
	projectID string
}

// NewClient creates a new Firestore client. An empty credsPath uses
// Application Default Credentials.
func NewClient(ctx context.Context, projectID, credsPath string) (*Client, error) {
	conf := &firebase.Config{ProjectID: projectID}

	var opts []option.ClientOption
	if credsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credsPath))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	firestoreClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	// Create Auth client
	authClient, err := app.Auth(ctx)
	if err != nil {
		firestoreClient.Close()
		return nil, fmt.Errorf("failed to create Auth client: %w", err)
	}

	return &Client{
		Firestore: firestoreClient,
		Auth:      authClient,
		projectID: projectID,
	}, nil
}

// Close closes the Firestore client
func (c *Client) Close() error {
	return c.Firestore.Close()
}

// CategoryDoc is one cached instrument category.
type CategoryDoc struct {
	Name      string    `firestore:"name"`
	Category  string    `firestore:"category"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// DocID derives a stable document ID from an instrument name. Names may
// contain "/" which Firestore forbids in IDs.
func DocID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

// CategoryStore is a cache.Store backed by a Firestore collection. Set
// buffers; Flush writes the buffered entries with a BulkWriter.
type CategoryStore struct {
	client  *Client
	mu      sync.Mutex
	pending map[string]domain.Category
}

// Categories returns the category cache for this project.
func (c *Client) Categories() *CategoryStore {
	return &CategoryStore{client: c, pending: make(map[string]domain.Category)}
}

func (s *CategoryStore) Get(ctx context.Context, name string) (domain.Category, bool, error) {
	s.mu.Lock()
	if c, ok := s.pending[name]; ok {
		s.mu.Unlock()
		return c, true, nil
	}
	s.mu.Unlock()

	doc, err := s.client.Firestore.Collection(categoriesCollection).Doc(DocID(name)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get category for %s: %w", name, err)
	}

	var cd CategoryDoc
	if err := doc.DataTo(&cd); err != nil {
		return "", false, fmt.Errorf("failed to parse category: %w", err)
	}
	return domain.Category(cd.Category), true, nil
}

func (s *CategoryStore) Set(_ context.Context, name string, category domain.Category) error {
	if !domain.ValidateCategory(category) {
		return fmt.Errorf("invalid category %q for %s", category, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[name] = category
	return nil
}

func (s *CategoryStore) Snapshot(ctx context.Context) (map[string]domain.Category, error) {
	iter := s.client.Firestore.Collection(categoriesCollection).Documents(ctx)
	defer iter.Stop()

	out := make(map[string]domain.Category)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate categories: %w", err)
		}

		var cd CategoryDoc
		if err := doc.DataTo(&cd); err != nil {
			return nil, fmt.Errorf("failed to parse category: %w", err)
		}
		out[cd.Name] = domain.Category(cd.Category)
	}

	s.mu.Lock()
	for k, v := range s.pending {
		out[k] = v
	}
	s.mu.Unlock()
	return out, nil
}

func (s *CategoryStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]domain.Category)
	s.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	now := time.Now()
	bw := s.client.Firestore.BulkWriter(ctx)
	jobs := make(map[string]*firestore.BulkWriterJob, len(pending))
	for name, c := range pending {
		ref := s.client.Firestore.Collection(categoriesCollection).Doc(DocID(name))
		job, err := bw.Set(ref, CategoryDoc{Name: name, Category: string(c), UpdatedAt: now})
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue category for %s: %w", name, err)
		}
		jobs[name] = job
	}
	bw.End()

	for name, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to store category for %s: %w", name, err)
		}
	}
	return nil
}

// RunStatus represents the outcome of a sync run
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusDryRun    RunStatus = "dry-run"
)

// RunRecord represents one sync run in Firestore
type RunRecord struct {
	ID              string                 `firestore:"id" json:"id"`
	Status          RunStatus              `firestore:"status" json:"status"`
	FileCount       int                    `firestore:"fileCount" json:"fileCount"`
	Appended        int                    `firestore:"appended" json:"appended"`
	Duplicates      int                    `firestore:"duplicates" json:"duplicates"`
	FailedSheets    []string               `firestore:"failedSheets" json:"failedSheets"`
	DashboardStatus string                 `firestore:"dashboardStatus" json:"dashboardStatus"`
	Stats           map[string]interface{} `firestore:"stats" json:"stats"`
	Error           string                 `firestore:"error,omitempty" json:"error,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt" json:"createdAt"`
	CompletedAt     *time.Time             `firestore:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// Validate checks if the RunRecord has valid data
func (r *RunRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run ID is required")
	}

	validStatuses := map[RunStatus]bool{
		RunStatusCompleted: true,
		RunStatusPartial:   true,
		RunStatusError:     true,
		RunStatusCancelled: true,
		RunStatusDryRun:    true,
	}
	if !validStatuses[r.Status] {
		return fmt.Errorf("invalid status: %s", r.Status)
	}

	if r.FileCount < 0 || r.Appended < 0 || r.Duplicates < 0 {
		return fmt.Errorf("counts cannot be negative")
	}

	if r.FailedSheets == nil {
		r.FailedSheets = []string{}
	}
	return nil
}

// RecordRun stores a run record, replacing any record with the same ID.
func (c *Client) RecordRun(ctx context.Context, run *RunRecord) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run record: %w", err)
	}
	_, err := c.Firestore.Collection(runsCollection).Doc(run.ID).Set(ctx, run)
	return err
}

// GetRun retrieves a run record by ID
func (c *Client) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	doc, err := c.Firestore.Collection(runsCollection).Doc(runID).Get(ctx)
	if err != nil {
		return nil, err
	}

	var run RunRecord
	if err := doc.DataTo(&run); err != nil {
		return nil, fmt.Errorf("failed to parse run: %w", err)
	}
	return &run, nil
}

// ListRuns retrieves the most recent run records, newest first
func (c *Client) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	iter := c.Firestore.Collection(runsCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var runs []*RunRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate runs: %w", err)
		}

		var run RunRecord
		if err := doc.DataTo(&run); err != nil {
			return nil, fmt.Errorf("failed to parse run: %w", err)
		}
		runs = append(runs, &run)
	}

	return runs, nil
}
