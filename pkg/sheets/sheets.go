package sheets

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"datamakelaar/pkg/schema"
	"datamakelaar/pkg/spreadsheet"
	"datamakelaar/pkg/vip"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	defaultMaxRetries = 15
	defaultMaxBackoff = 60 * time.Second
)

// ErrNotConfigured is returned when no spreadsheet is configured.
var ErrNotConfigured = errors.New("google sheets is not configured")

type SheetClient struct {
	service       *sheets.Service
	spreadsheetID string
	maxRetries    int
	maxBackoff    time.Duration
	sleep         func(context.Context, time.Duration) error
}

// NewSheetClient authenticates with a service account key file.
func NewSheetClient(ctx context.Context, jsonPath, spreadsheetID string) (*SheetClient, error) {
	if jsonPath == "" || spreadsheetID == "" {
		return nil, ErrNotConfigured
	}
	srv, err := sheets.NewService(ctx, option.WithCredentialsFile(jsonPath))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets client: %w", err)
	}
	return newSheetClient(srv, spreadsheetID), nil
}

func newSheetClient(srv *sheets.Service, spreadsheetID string) *SheetClient {
	return &SheetClient{
		service:       srv,
		spreadsheetID: spreadsheetID,
		maxRetries:    defaultMaxRetries,
		maxBackoff:    defaultMaxBackoff,
		sleep:         sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// rateLimited reports a 429, or a 403 whose reason is a quota.
func rateLimited(err error) bool {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return false
	}
	switch gErr.Code {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		for _, e := range gErr.Errors {
			if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
				return true
			}
		}
	}
	return false
}

// withRetry runs fn until it succeeds, fails without being rate limited or
// runs out of attempts.
func (c *SheetClient) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !rateLimited(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
		log.WithField("op", op).Warnf("Rate limited by Google Sheets API, retrying in %v...", backoff)
		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: failed after %d retries: %w", op, c.maxRetries, err)
}

func (c *SheetClient) batchUpdate(ctx context.Context, op string, reqs []*sheets.Request) (*sheets.BatchUpdateSpreadsheetResponse, error) {
	var resp *sheets.BatchUpdateSpreadsheetResponse
	err := c.withRetry(ctx, op, func() error {
		var err error
		resp, err = c.service.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: reqs,
		}).Context(ctx).Do()
		return err
	})
	return resp, err
}

// prepareSheet returns the id of tab, adding the tab when it does not exist
// and clearing it when it does.
func (c *SheetClient) prepareSheet(ctx context.Context, tab string) (int64, error) {
	var ss *sheets.Spreadsheet
	err := c.withRetry(ctx, "get spreadsheet", func() error {
		var err error
		ss, err = c.service.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, sh := range ss.Sheets {
		if sh.Properties == nil || sh.Properties.Title != tab {
			continue
		}
		if _, err := c.batchUpdate(ctx, "clear sheet", resetRequests(sh)); err != nil {
			return 0, err
		}
		return sh.Properties.SheetId, nil
	}

	resp, err := c.batchUpdate(ctx, "add sheet", []*sheets.Request{{
		AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: tab}},
	}})
	if err != nil {
		return 0, err
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil {
		return 0, fmt.Errorf("add sheet %q: empty reply", tab)
	}
	return resp.Replies[0].AddSheet.Properties.SheetId, nil
}

// Publish writes the objects into the dataset's tab and applies the column
// rules. It returns the tab title.
func (c *SheetClient) Publish(ctx context.Context, s *schema.Schema, objects []vip.Object) (string, error) {
	if len(objects) == 0 {
		return "", spreadsheet.ErrNoObjects
	}
	tab := TabName(s)
	sheetID, err := c.prepareSheet(ctx, tab)
	if err != nil {
		return "", err
	}

	if _, err := c.batchUpdate(ctx, "write rows", dataRequests(sheetID, rowData(s, objects))); err != nil {
		return "", err
	}

	if _, err := c.batchUpdate(ctx, "format sheet", formatRequests(sheetID, s, len(objects))); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{
		"dataset": s.Dataset,
		"tab":     tab,
		"rows":    len(objects),
	}).Info("Published dataset to Google Sheets")
	return tab, nil
}

// ReadTable reads a tab back in the same shape as an uploaded workbook.
func (c *SheetClient) ReadTable(ctx context.Context, tab string) (*spreadsheet.Table, error) {
	var resp *sheets.ValueRange
	err := c.withRetry(ctx, "read sheet", func() error {
		var err error
		resp, err = c.service.Spreadsheets.Values.Get(c.spreadsheetID, quoteRange(tab, "")).
			ValueRenderOption("UNFORMATTED_VALUE").
			DateTimeRenderOption("SERIAL_NUMBER").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return spreadsheet.NewTable(toStrings(resp.Values))
}
