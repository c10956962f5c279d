package arrivals

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BusDataTools/buscast/business/data/timetable"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// baseColumns are the identifying columns preceding the stop columns on every route tab
var baseColumns = []string{"Journey_Key", "Date", "Bus_ID", "Route", "Direction", "Day_Type"}

// sheetTab holds the layout of one managed route_direction worksheet
type sheetTab struct {
	title  string
	header []string
}

// SheetStore implements RowStore on a Google spreadsheet, one tab per
// route/direction with stop names as columns, matching the layout analysts
// read arrival distributions from.
type SheetStore struct {
	service       *sheets.Service
	spreadsheetId string
	tabs          []*sheetTab
	tabsByTitle   map[string]*sheetTab
}

// NewSheetStore builds a SheetStore using service account credentials
func NewSheetStore(ctx context.Context, credentialsFile string, spreadsheetId string) (*SheetStore, error) {
	service, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	return &SheetStore{
		service:       service,
		spreadsheetId: spreadsheetId,
		tabsByTitle:   make(map[string]*sheetTab),
	}, nil
}

// EnsureRouteTab makes sure a tab exists for the route/direction with a header
// of identifying columns followed by the route's stop names, creating it when
// missing. Must be called for each monitored route/direction before rows are
// written. An existing tab keeps its header so columns stay aligned with rows
// written by earlier sessions.
func (s *SheetStore) EnsureRouteTab(routeId string, direction string, stops []timetable.Stop) error {
	title := tabTitle(routeId, direction)
	if _, present := s.tabsByTitle[title]; present {
		return nil
	}

	header := make([]string, 0, len(baseColumns)+len(stops))
	header = append(header, baseColumns...)
	for _, stop := range stops {
		header = append(header, stop.Name)
	}

	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetId).Do()
	if err != nil {
		return fmt.Errorf("opening spreadsheet %s: %w", s.spreadsheetId, err)
	}

	exists := false
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == title {
			exists = true
			break
		}
	}

	if !exists {
		request := sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}}},
			},
		}
		if _, err = s.service.Spreadsheets.BatchUpdate(s.spreadsheetId, &request).Do(); err != nil {
			return fmt.Errorf("adding tab %s: %w", title, err)
		}
		headerValues := make([]interface{}, len(header))
		for i, column := range header {
			headerValues[i] = column
		}
		valueRange := sheets.ValueRange{Values: [][]interface{}{headerValues}}
		_, err = s.service.Spreadsheets.Values.
			Update(s.spreadsheetId, rangeFor(title, "A1"), &valueRange).
			ValueInputOption("RAW").Do()
		if err != nil {
			return fmt.Errorf("writing header for tab %s: %w", title, err)
		}
	} else {
		existing, err := s.service.Spreadsheets.Values.Get(s.spreadsheetId, rangeFor(title, "1:1")).Do()
		if err != nil {
			return fmt.Errorf("reading header of tab %s: %w", title, err)
		}
		if len(existing.Values) > 0 && len(existing.Values[0]) > 0 {
			header = header[:0]
			for _, cell := range existing.Values[0] {
				header = append(header, fmt.Sprintf("%v", cell))
			}
		}
	}

	tab := &sheetTab{title: title, header: header}
	s.tabs = append(s.tabs, tab)
	s.tabsByTitle[title] = tab
	return nil
}

// FindRow implements RowStore by scanning the journey key column of every managed tab
func (s *SheetStore) FindRow(journeyKey string) (*Row, error) {
	for _, tab := range s.tabs {
		keyColumn, err := s.service.Spreadsheets.Values.Get(s.spreadsheetId, rangeFor(tab.title, "A2:A")).Do()
		if err != nil {
			return nil, fmt.Errorf("reading keys of tab %s: %w", tab.title, err)
		}
		for i, rowValues := range keyColumn.Values {
			if len(rowValues) > 0 && fmt.Sprintf("%v", rowValues[0]) == journeyKey {
				return &Row{Key: journeyKey, Tab: tab.title, Ref: int64(i + 2)}, nil
			}
		}
	}
	return nil, nil
}

// CreateRow implements RowStore by appending a row to the journey's route tab
func (s *SheetStore) CreateRow(fields RowFields) (*Row, error) {
	title := tabTitle(fields.RouteId, fields.Direction)
	tab, present := s.tabsByTitle[title]
	if !present {
		return nil, fmt.Errorf("no tab prepared for %s", title)
	}

	rowValues := make([]interface{}, len(tab.header))
	for i, column := range tab.header {
		switch column {
		case "Journey_Key":
			rowValues[i] = fields.JourneyKey
		case "Date":
			rowValues[i] = fields.Date
		case "Bus_ID":
			rowValues[i] = fields.VehicleId
		case "Route":
			rowValues[i] = fields.RouteId
		case "Direction":
			rowValues[i] = fields.Direction
		case "Day_Type":
			rowValues[i] = fields.DayType
		case fields.StopName:
			rowValues[i] = fields.ArrivalTime
		default:
			rowValues[i] = ""
		}
	}

	valueRange := sheets.ValueRange{Values: [][]interface{}{rowValues}}
	response, err := s.service.Spreadsheets.Values.
		Append(s.spreadsheetId, rangeFor(tab.title, "A1"), &valueRange).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Do()
	if err != nil {
		return nil, fmt.Errorf("appending row to tab %s: %w", tab.title, err)
	}

	row := &Row{Key: fields.JourneyKey, Tab: tab.title}
	if response.Updates != nil {
		row.Ref = rowNumberFromRange(response.Updates.UpdatedRange)
	}
	return row, nil
}

// SetCellIfEmpty implements RowStore; reads the cell first and only writes when it is blank
func (s *SheetStore) SetCellIfEmpty(row *Row, column string, value string) (bool, error) {
	tab, present := s.tabsByTitle[row.Tab]
	if !present {
		return false, fmt.Errorf("no tab prepared for %s", row.Tab)
	}
	columnIndex := -1
	for i, name := range tab.header {
		if name == column {
			columnIndex = i
			break
		}
	}
	if columnIndex < 0 {
		return false, fmt.Errorf("tab %s has no column %q", tab.title, column)
	}

	cell := fmt.Sprintf("%s%d", columnLetter(columnIndex), row.Ref)
	current, err := s.service.Spreadsheets.Values.Get(s.spreadsheetId, rangeFor(tab.title, cell)).Do()
	if err != nil {
		return false, fmt.Errorf("reading cell %s of tab %s: %w", cell, tab.title, err)
	}
	if len(current.Values) > 0 && len(current.Values[0]) > 0 && fmt.Sprintf("%v", current.Values[0][0]) != "" {
		return false, nil
	}

	valueRange := sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err = s.service.Spreadsheets.Values.
		Update(s.spreadsheetId, rangeFor(tab.title, cell), &valueRange).
		ValueInputOption("RAW").Do()
	if err != nil {
		return false, fmt.Errorf("writing cell %s of tab %s: %w", cell, tab.title, err)
	}
	return true, nil
}

func tabTitle(routeId string, direction string) string {
	return routeId + "_" + direction
}

func rangeFor(title string, cells string) string {
	return fmt.Sprintf("'%s'!%s", title, cells)
}

// columnLetter converts a zero based column index to A1 notation letters
func columnLetter(index int) string {
	letters := ""
	n := index
	for {
		letters = string(rune('A'+n%26)) + letters
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return letters
}

// rowNumberFromRange extracts the row number from an updated range such as "'TUBE_outbound'!A5:G5"
func rowNumberFromRange(updatedRange string) int64 {
	parts := strings.SplitN(updatedRange, "!", 2)
	if len(parts) != 2 {
		return 0
	}
	cell := strings.SplitN(parts[1], ":", 2)[0]
	digits := strings.TrimLeftFunc(cell, func(r rune) bool { return r < '0' || r > '9' })
	number, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return number
}
