package sheets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Options configures a Client.
type Options struct {
	SpreadsheetID string
	// CredentialsFile is a service-account JSON key. When empty, application
	// default credentials are used.
	CredentialsFile   string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint64
	BaseDelay         time.Duration
	Logger            *slog.Logger
}

func (o *Options) setDefaults() {
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 1
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 4
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client is a Store backed by one Google spreadsheet. Every API call is rate
// limited and retried on quota and server errors.
type Client struct {
	svc     *gsheets.Service
	id      string
	limiter *rate.Limiter
	ids     *gocache.Cache
	opts    Options
	logger  *slog.Logger
}

// NewClient authenticates and returns a Client for opts.SpreadsheetID.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID cannot be empty")
	}
	opts.setDefaults()

	var clientOpt option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpt = option.WithCredentialsFile(opts.CredentialsFile)
	} else {
		creds, err := google.FindDefaultCredentials(ctx, gsheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("failed to find default credentials: %w", err)
		}
		clientOpt = option.WithCredentials(creds)
	}

	svc, err := gsheets.NewService(ctx, clientOpt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return newClient(svc, opts), nil
}

func newClient(svc *gsheets.Service, opts Options) *Client {
	opts.setDefaults()
	return &Client{
		svc:     svc,
		id:      opts.SpreadsheetID,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		ids:     gocache.New(10*time.Minute, 20*time.Minute),
		opts:    opts,
		logger:  opts.Logger.With("spreadsheet", opts.SpreadsheetID),
	}
}

// do runs fn under the rate limiter with bounded exponential backoff.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(c.opts.BaseDelay)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(c.opts.MaxRetries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := fn(ctx)
		if err != nil && isRetryable(err) {
			c.logger.Warn("sheets request failed, retrying", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("sheets %s: %w", op, err)
	}
	return nil
}

// isRetryable reports whether err is a quota, server or transport failure.
func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// sheetIDs returns title → sheet ID, from cache when possible.
func (c *Client) sheetIDs(ctx context.Context, refresh bool) (map[string]int64, error) {
	if !refresh {
		if v, ok := c.ids.Get(c.id); ok {
			return v.(map[string]int64), nil
		}
	}
	var ss *gsheets.Spreadsheet
	err := c.do(ctx, "get spreadsheet", func(ctx context.Context) error {
		var err error
		ss, err = c.svc.Spreadsheets.Get(c.id).Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			ids[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	c.ids.Set(c.id, ids, gocache.DefaultExpiration)
	return ids, nil
}

func (c *Client) sheetID(ctx context.Context, name string) (int64, error) {
	ids, err := c.sheetIDs(ctx, false)
	if err != nil {
		return 0, err
	}
	if id, ok := ids[name]; ok {
		return id, nil
	}
	// the sheet may have been created elsewhere since the cache was filled
	if ids, err = c.sheetIDs(ctx, true); err != nil {
		return 0, err
	}
	if id, ok := ids[name]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// ListSheets returns every sheet title. Order is not guaranteed.
func (c *Client) ListSheets(ctx context.Context) ([]string, error) {
	ids, err := c.sheetIDs(ctx, true)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ids))
	for name := range ids {
		names = append(names, name)
	}
	return names, nil
}

func (c *Client) CreateSheet(ctx context.Context, name string) error {
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			AddSheet: &gsheets.AddSheetRequest{
				Properties: &gsheets.SheetProperties{Title: name},
			},
		}},
	}
	var resp *gsheets.BatchUpdateSpreadsheetResponse
	err := c.do(ctx, "add sheet", func(ctx context.Context) error {
		var err error
		resp, err = c.svc.Spreadsheets.BatchUpdate(c.id, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}
	c.ids.Delete(c.id)
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
		c.logger.Info("created sheet", "sheet", name, "sheetId", resp.Replies[0].AddSheet.Properties.SheetId)
	}
	return nil
}

func (c *Client) Read(ctx context.Context, name, a1 string, mode RenderMode) ([][]interface{}, error) {
	if _, err := c.sheetID(ctx, name); err != nil {
		return nil, err
	}
	render := "UNFORMATTED_VALUE"
	if mode == RenderDisplay {
		render = "FORMATTED_VALUE"
	}
	var vr *gsheets.ValueRange
	err := c.do(ctx, "read "+name, func(ctx context.Context) error {
		var err error
		vr, err = c.svc.Spreadsheets.Values.Get(c.id, qualify(name, a1)).
			ValueRenderOption(render).
			DateTimeRenderOption("FORMATTED_STRING").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return vr.Values, nil
}

func (c *Client) Write(ctx context.Context, name, a1 string, rows [][]interface{}) error {
	vr := &gsheets.ValueRange{Values: rows}
	return c.do(ctx, "write "+name, func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.Update(c.id, qualify(name, a1), vr).
			ValueInputOption("RAW").
			Context(ctx).Do()
		return err
	})
}

// Clear resets values and formats over the whole grid in one request;
// clearing values alone would leave old number formats and fills behind.
func (c *Client) Clear(ctx context.Context, name string) error {
	sheetID, err := c.sheetID(ctx, name)
	if err != nil {
		return err
	}
	return c.batch(ctx, "clear "+name, &gsheets.Request{
		UpdateCells: &gsheets.UpdateCellsRequest{
			Range: &gsheets.GridRange{
				SheetId:         sheetID,
				ForceSendFields: []string{"SheetId"},
			},
			Fields: "userEnteredValue,userEnteredFormat",
		},
	})
}

func (c *Client) batch(ctx context.Context, op string, reqs ...*gsheets.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	body := &gsheets.BatchUpdateSpreadsheetRequest{Requests: reqs}
	return c.do(ctx, op, func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.BatchUpdate(c.id, body).Context(ctx).Do()
		return err
	})
}

// gridRange builds a half-open range. Zero indices must be force-sent or the
// API treats them as unbounded.
func gridRange(sheetID int64, rows RowRange, startCol, endCol int) *gsheets.GridRange {
	return &gsheets.GridRange{
		SheetId:          sheetID,
		StartRowIndex:    int64(rows.Start),
		EndRowIndex:      int64(rows.End),
		StartColumnIndex: int64(startCol),
		EndColumnIndex:   int64(endCol),
		ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
	}
}

func (c *Client) ApplyNumberFormats(ctx context.Context, name string, formats []ColumnFormat, rows RowRange) error {
	if rows.Len() == 0 || len(formats) == 0 {
		return nil
	}
	sheetID, err := c.sheetID(ctx, name)
	if err != nil {
		return err
	}
	reqs := make([]*gsheets.Request, 0, len(formats))
	for _, f := range formats {
		reqs = append(reqs, &gsheets.Request{
			RepeatCell: &gsheets.RepeatCellRequest{
				Range: gridRange(sheetID, rows, f.Column, f.Column+1),
				Cell: &gsheets.CellData{
					UserEnteredFormat: &gsheets.CellFormat{
						NumberFormat: &gsheets.NumberFormat{Type: f.Type, Pattern: f.Pattern},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		})
	}
	return c.batch(ctx, "format "+name, reqs...)
}

func (c *Client) SetFrozenRows(ctx context.Context, name string, n int) error {
	sheetID, err := c.sheetID(ctx, name)
	if err != nil {
		return err
	}
	return c.batch(ctx, "freeze "+name, &gsheets.Request{
		UpdateSheetProperties: &gsheets.UpdateSheetPropertiesRequest{
			Properties: &gsheets.SheetProperties{
				SheetId: sheetID,
				GridProperties: &gsheets.GridProperties{
					FrozenRowCount:  int64(n),
					ForceSendFields: []string{"FrozenRowCount"},
				},
				ForceSendFields: []string{"SheetId"},
			},
			Fields: "gridProperties.frozenRowCount",
		},
	})
}

func (c *Client) SetBasicFilter(ctx context.Context, name string, columns int) error {
	sheetID, err := c.sheetID(ctx, name)
	if err != nil {
		return err
	}
	return c.batch(ctx, "filter "+name, &gsheets.Request{
		SetBasicFilter: &gsheets.SetBasicFilterRequest{
			Filter: &gsheets.BasicFilter{
				Range: &gsheets.GridRange{
					SheetId:          sheetID,
					StartColumnIndex: 0,
					EndColumnIndex:   int64(columns),
					ForceSendFields:  []string{"SheetId", "StartColumnIndex"},
				},
			},
		},
	})
}

func (c *Client) ApplyBackground(ctx context.Context, name string, rows RowRange, columns int, color Color) error {
	if rows.Len() == 0 {
		return nil
	}
	sheetID, err := c.sheetID(ctx, name)
	if err != nil {
		return err
	}
	return c.batch(ctx, "color "+name, &gsheets.Request{
		RepeatCell: &gsheets.RepeatCellRequest{
			Range: gridRange(sheetID, rows, 0, columns),
			Cell: &gsheets.CellData{
				UserEnteredFormat: &gsheets.CellFormat{
					BackgroundColor: &gsheets.Color{
						Red:             color.Red,
						Green:           color.Green,
						Blue:            color.Blue,
						ForceSendFields: []string{"Red", "Green", "Blue"},
					},
				},
			},
			Fields: "userEnteredFormat.backgroundColor",
		},
	})
}
