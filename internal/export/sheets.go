package export

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Sheet titles written by SheetsSink.
const (
	AllSheetTitle      = "All"
	LowRatedSheetTitle = "LowRated"
)

// SheetsSink writes the tabular export into two sheets of a Google spreadsheet,
// replacing their previous contents.
type SheetsSink struct {
	service       *sheets.Service
	spreadsheetID string
	logger        *log.Logger
}

// NewSheetsService creates a Google Sheets API client with write scope,
// using a credentials file when given and Application Default Credentials otherwise.
func NewSheetsService(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*sheets.Service, error) {
	if credentialsFile == "" {
		opts = append(opts, option.WithScopes(sheets.SpreadsheetsScope))
		service, err := sheets.NewService(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Sheets service with default credentials: %w", err)
		}
		return service, nil
	}

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	// Service account and Workload Identity Federation files are both accepted.
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	opts = append(opts, option.WithCredentials(creds))
	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}
	return service, nil
}

// NewSheetsSink creates a SheetsSink for spreadsheetID.
func NewSheetsSink(service *sheets.Service, spreadsheetID string, logger *log.Logger) (*SheetsSink, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet ID is required")
	}
	if logger == nil {
		logger = log.New(os.Stdout, "export ", log.LstdFlags)
	}
	return &SheetsSink{service: service, spreadsheetID: spreadsheetID, logger: logger}, nil
}

func (s *SheetsSink) Name() string { return "sheets" }

func (s *SheetsSink) Export(ctx context.Context, ds Dataset) error {
	if err := s.ensureSheets(ctx, AllSheetTitle, LowRatedSheetTitle); err != nil {
		return err
	}
	if err := s.writeSheet(ctx, AllSheetTitle, Rows(ds.All)); err != nil {
		return err
	}
	if err := s.writeSheet(ctx, LowRatedSheetTitle, Rows(ds.LowRated)); err != nil {
		return err
	}

	s.logger.Printf("Wrote %d places and %d low-rated places to spreadsheet %s", len(ds.All), len(ds.LowRated), s.spreadsheetID)
	return nil
}

// ensureSheets adds any missing sheet titles to the spreadsheet.
func (s *SheetsSink) ensureSheets(ctx context.Context, titles ...string) error {
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet %s: %w", s.spreadsheetID, err)
	}

	existing := make(map[string]bool, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil {
			existing[sheet.Properties.Title] = true
		}
	}

	var requests []*sheets.Request
	for _, title := range titles {
		if existing[title] {
			continue
		}
		requests = append(requests, &sheets.Request{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: title},
			},
		})
	}
	if len(requests) == 0 {
		return nil
	}

	_, err = s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to add sheets to %s: %w", s.spreadsheetID, err)
	}
	return nil
}

func (s *SheetsSink) writeSheet(ctx context.Context, title string, rows [][]string) error {
	clearRange := fmt.Sprintf("'%s'", title)
	if _, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to clear sheet %s: %w", title, err)
	}

	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, cell := range row {
			cells[j] = cell
		}
		values[i] = cells
	}

	writeRange := fmt.Sprintf("'%s'!A1", title)
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, writeRange, &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write sheet %s: %w", title, err)
	}
	return nil
}
