package provider

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// DecodeCSV parses a CSV payload into normalized records. The first row is
// the header; short rows are padded with empty fields.
// Parameters:
//   - data: raw CSV bytes.
//
// Returns:
//   - []Record: rows in file order.
//   - error: *Error of type bad_response if the payload cannot be parsed.
func DecodeCSV(data []byte) ([]Record, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return []Record{}, nil
	}
	if err != nil {
		return nil, newBadResponseError("failed to parse CSV header", err)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, newBadResponseError("failed to parse CSV row", err)
		}

		record := make(Record, len(header))
		for i, key := range header {
			if i < len(row) {
				record[key] = row[i]
			} else {
				record[key] = ""
			}
		}
		records = append(records, record)
	}

	return records, nil
}

// DecodeJSON parses a JSON payload into normalized records. Accepts either a
// bare array of objects or an envelope of the form {"data": [...]}. Scalar
// values are rendered as strings; nested values are re-encoded as JSON.
// Parameters:
//   - data: raw JSON bytes.
//
// Returns:
//   - []Record: rows in document order.
//   - error: *Error of type bad_response if the payload cannot be parsed.
func DecodeJSON(data []byte) ([]Record, error) {
	var rows []map[string]interface{}

	if err := json.Unmarshal(data, &rows); err != nil {
		var envelope struct {
			Data []map[string]interface{} `json:"data"`
		}
		if envErr := json.Unmarshal(data, &envelope); envErr != nil {
			return nil, newBadResponseError("failed to parse JSON payload", err)
		}
		rows = envelope.Data
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record := make(Record, len(row))
		for key, value := range row {
			record[key] = normalizeValue(value)
		}
		records = append(records, record)
	}

	return records, nil
}

// normalizeValue renders a decoded JSON value as a flat string field.
func normalizeValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
