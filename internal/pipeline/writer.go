package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/parquet-go"
)

// recordWriter writes redacted rows to the output target.
type recordWriter interface {
	Write(rec OutputRecord) error
	Close() error
}

// newRecordWriter picks the output writer by extension. An empty path means
// CSV on stdout.
func newRecordWriter(path string) (recordWriter, error) {
	if path == "" {
		return newCSVRecordWriter(os.Stdout, nil), nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	if strings.HasSuffix(path, ".parquet") {
		return newParquetRecordWriter(file), nil
	}
	return newCSVRecordWriter(file, file), nil
}

type csvRecordWriter struct {
	w      *csv.Writer
	closer io.Closer
}

func newCSVRecordWriter(out io.Writer, closer io.Closer) *csvRecordWriter {
	w := csv.NewWriter(out)
	// Write errors stick to the writer and surface from Close.
	_ = w.Write([]string{"record_id", "redacted_data_json", "is_pii"})
	return &csvRecordWriter{w: w, closer: closer}
}

func (c *csvRecordWriter) Write(rec OutputRecord) error {
	return c.w.Write([]string{rec.RecordID, rec.Data, formatFlag(rec.IsPII)})
}

func (c *csvRecordWriter) Close() error {
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// parquetOutputRow is the output file schema.
type parquetOutputRow struct {
	RecordID string `parquet:"record_id"`
	Data     string `parquet:"redacted_data_json"`
	IsPII    bool   `parquet:"is_pii"`
}

type parquetRecordWriter struct {
	w    *parquet.Writer
	file *os.File
}

func newParquetRecordWriter(file *os.File) *parquetRecordWriter {
	return &parquetRecordWriter{
		w:    parquet.NewWriter(file, parquet.SchemaOf(parquetOutputRow{})),
		file: file,
	}
}

func (p *parquetRecordWriter) Write(rec OutputRecord) error {
	return p.w.Write(parquetOutputRow{
		RecordID: rec.RecordID,
		Data:     rec.Data,
		IsPII:    rec.IsPII,
	})
}

func (p *parquetRecordWriter) Close() error {
	err := p.w.Close()
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// formatFlag renders the PII flag in the capitalized form downstream
// consumers of the CSV expect.
func formatFlag(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
