package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	logx "surveybot/pkg/logx"
)

type sheetsStore struct {
	svc *sheets.Service
	id  string
	log logx.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64 // title -> numeric sheet id
}

func openSheets(cfg Config, log logx.Logger) (Store, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("sheets spreadsheet_id is required")
	}
	svc, err := sheets.NewService(context.Background(), sheetsClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &sheetsStore{svc: svc, id: id, log: log, sheetIDs: map[string]int64{}}, nil
}

// sheetsClientOptions prefers explicit config and falls back to the usual
// GOOGLE_APPLICATION_CREDENTIALS[_JSON] variables.
func sheetsClientOptions(cfg Config) []option.ClientOption {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	creds := strings.TrimSpace(cfg.CredentialsJSON)
	if creds == "" {
		creds = strings.TrimSpace(cfg.CredentialsFile)
	}
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	}
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		return append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	return append(opts, option.WithCredentialsFile(creds))
}

func (s *sheetsStore) Close() error { return nil }

func (s *sheetsStore) CreateTable(ctx context.Context, name string) error {
	if err := validTableName(name); err != nil {
		return err
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: name}},
	}}}
	resp, err := s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do()
	if err != nil {
		if isAlreadyExists(err) {
			return ErrTableExists
		}
		return err
	}
	if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil && resp.Replies[0].AddSheet.Properties != nil {
		s.mu.Lock()
		s.sheetIDs[name] = resp.Replies[0].AddSheet.Properties.SheetId
		s.mu.Unlock()
	}
	return nil
}

func (s *sheetsStore) WriteRange(ctx context.Context, name string, r Range, rows [][]string) error {
	vr := &sheets.ValueRange{Values: toInterfaces(rows)}
	_, err := s.svc.Spreadsheets.Values.Update(s.id, r.A1(name), vr).
		ValueInputOption("RAW").Context(ctx).Do()
	return s.mapErr(err)
}

func (s *sheetsStore) ReadRange(ctx context.Context, name string, r Range) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.id, r.A1(name)).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, s.mapErr(err)
	}
	out := make([][]string, 0, len(resp.Values))
	for _, src := range resp.Values {
		row := make([]string, len(src))
		for j, v := range src {
			row[j] = cellString(v)
		}
		out = append(out, row)
	}
	return trimRows(out), nil
}

func (s *sheetsStore) AppendRows(ctx context.Context, name string, rows [][]string) (int, error) {
	vr := &sheets.ValueRange{Values: toInterfaces(rows)}
	resp, err := s.svc.Spreadsheets.Values.Append(s.id, QuoteTable(name)+"!A1", vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return 0, s.mapErr(err)
	}
	if resp.Updates == nil {
		return 0, errors.New("sheets: append returned no update range")
	}
	first := ParseCellRow(resp.Updates.UpdatedRange)
	if first == 0 {
		return 0, fmt.Errorf("sheets: unparseable update range %q", resp.Updates.UpdatedRange)
	}
	return first, nil
}

func (s *sheetsStore) DeleteRows(ctx context.Context, name string, from, to int) error {
	if from < 1 || to < from {
		return nil
	}
	sid, err := s.sheetID(ctx, name)
	if err != nil {
		return err
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		DeleteDimension: &sheets.DeleteDimensionRequest{Range: &sheets.DimensionRange{
			SheetId:    sid,
			Dimension:  "ROWS",
			StartIndex: int64(from - 1),
			EndIndex:   int64(to),
		}},
	}}}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do()
	return s.mapErr(err)
}

func (s *sheetsStore) ListTables(ctx context.Context) ([]string, error) {
	sp, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sp.Sheets))
	s.mu.Lock()
	for _, sh := range sp.Sheets {
		if sh.Properties == nil {
			continue
		}
		out = append(out, sh.Properties.Title)
		s.sheetIDs[sh.Properties.Title] = sh.Properties.SheetId
	}
	s.mu.Unlock()
	return out, nil
}

func (s *sheetsStore) sheetID(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	id, ok := s.sheetIDs[name]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	if _, err := s.ListTables(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	id, ok = s.sheetIDs[name]
	s.mu.Unlock()
	if !ok {
		return 0, ErrTableNotFound
	}
	return id, nil
}

// mapErr turns "Unable to parse range" (the API's answer for a missing sheet)
// into ErrTableNotFound.
func (s *sheetsStore) mapErr(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest &&
		strings.Contains(gerr.Message, "Unable to parse range") {
		return ErrTableNotFound
	}
	return err
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest &&
		strings.Contains(gerr.Message, "already exists")
}

func toInterfaces(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		out[i] = make([]interface{}, len(row))
		for j, v := range row {
			out[i][j] = v
		}
	}
	return out
}

func cellString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}
