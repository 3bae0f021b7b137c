package service

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/timmy/scrapedeck/internal/domain"
)

// decodeFields unpacks a combined record's stored field map.
func decodeFields(record *domain.CombinedRecord) (map[string]string, error) {
	fields := make(map[string]string)
	if record.Fields == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(record.Fields), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode record %d fields: %w", record.Position, err)
	}
	return fields, nil
}

// EncodeRecordsCSV renders a combined dataset as CSV. The header is the union
// of all field names in sorted order so the column layout is deterministic;
// records missing a column get an empty cell.
// Parameters:
//   - records: combined records in position order.
//
// Returns:
//   - []byte: CSV bytes including the header row.
//   - error: non-nil if a record's stored fields cannot be decoded.
func EncodeRecordsCSV(records []domain.CombinedRecord) ([]byte, error) {
	decoded := make([]map[string]string, 0, len(records))
	columnSet := make(map[string]struct{})
	for i := range records {
		fields, err := decodeFields(&records[i])
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, fields)
		for k := range fields {
			columnSet[k] = struct{}{}
		}
	}

	columns := make([]string, 0, len(columnSet))
	for k := range columnSet {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	row := make([]string, len(columns))
	for _, fields := range decoded {
		for i, col := range columns {
			row[i] = fields[col]
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeRecordsJSON renders a combined dataset as a JSON array of field maps
// in position order.
// Parameters:
//   - records: combined records in position order.
//
// Returns:
//   - []byte: JSON bytes.
//   - error: non-nil if a record's stored fields cannot be decoded.
func EncodeRecordsJSON(records []domain.CombinedRecord) ([]byte, error) {
	out := make([]map[string]string, 0, len(records))
	for i := range records {
		fields, err := decodeFields(&records[i])
		if err != nil {
			return nil, err
		}
		out = append(out, fields)
	}
	return json.Marshal(out)
}
