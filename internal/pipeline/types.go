package pipeline

import (
	"strings"
	"time"
)

// Row is a single input row before redaction.
type Row struct {
	RecordID string
	Payload  string
}

// OutputRecord is a redacted row ready for the writer.
type OutputRecord struct {
	RecordID   string   `csv:"record_id" parquet:"record_id" json:"record_id"`
	Data       string   `csv:"redacted_data_json" parquet:"redacted_data_json" json:"redacted_data_json"`
	IsPII      bool     `csv:"is_pii" parquet:"is_pii" json:"is_pii"`
	Categories []string `csv:"-" parquet:"-" json:"-"`
}

// Result summarizes one processing run.
type Result struct {
	TotalRows      int64            `json:"total_rows"`
	Emitted        int64            `json:"emitted"`
	Skipped        int64            `json:"skipped"`
	Flagged        int64            `json:"flagged"`
	CategoryCounts map[string]int64 `json:"category_counts,omitempty"`
	Duration       time.Duration    `json:"duration"`
	// Errors holds the first few row-level read faults. The messages carry
	// positions and parser reasons only, never payload text.
	Errors []string `json:"errors,omitempty"`
}

// maxResultErrors caps the faults carried on a Result so a broken file
// cannot balloon the summary.
const maxResultErrors = 20

func (r *Result) addError(msg string) {
	if len(r.Errors) < maxResultErrors {
		r.Errors = append(r.Errors, msg)
	}
}

// Stats tracks real-time processing statistics
type Stats struct {
	StartTime    time.Time `json:"start_time"`
	RowsRead     int64     `json:"rows_read"`
	RowsEmitted  int64     `json:"rows_emitted"`
	RowsSkipped  int64     `json:"rows_skipped"`
	RowsFlagged  int64     `json:"rows_flagged"`
	CurrentBatch int64     `json:"current_batch"`
	Rate         float64   `json:"rate"` // rows per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSONL   FileFormat = "jsonl"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch {
	case strings.HasSuffix(filename, ".parquet"):
		return FormatParquet
	case strings.HasSuffix(filename, ".jsonl") || strings.HasSuffix(filename, ".json"):
		return FormatJSONL
	default:
		return FormatCSV
	}
}
