package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/sanraksh/sanraksh/internal/config"
	"github.com/sanraksh/sanraksh/internal/logger"
	"github.com/sanraksh/sanraksh/internal/privacy"
)

// maxPayloadBytes caps a single payload cell. Larger cells are skipped,
// not truncated.
const maxPayloadBytes = 1 << 20

// Pipeline runs batch redaction over record files
type Pipeline struct {
	engine *privacy.Engine
	config *config.PipelineConfig
	logger *logger.Logger
	stats  *Stats
	mu     sync.RWMutex
}

// NewPipeline creates a new batch pipeline
func NewPipeline(engine *privacy.Engine, cfg *config.PipelineConfig, log *logger.Logger) *Pipeline {
	return &Pipeline{
		engine: engine,
		config: cfg,
		logger: log,
		stats: &Stats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile redacts a record file (CSV, Parquet, or JSONL) into outputPath.
// An empty outputPath writes CSV to stdout.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	p.logger.Info("Starting redaction run",
		zap.String("file", inputPath),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.Workers))

	start := time.Now()
	result := &Result{CategoryCounts: make(map[string]int64)}

	format := DetectFileFormat(inputPath)
	p.logger.Info("Detected file format", zap.String("format", string(format)))

	p.resetStats()

	writer, err := newRecordWriter(outputPath)
	if err != nil {
		return result, fmt.Errorf("failed to create output writer: %w", err)
	}

	switch format {
	case FormatCSV:
		err = p.processCSV(ctx, inputPath, writer, result)
	case FormatParquet:
		err = p.processParquet(ctx, inputPath, writer, result)
	case FormatJSONL:
		err = p.processJSONL(ctx, inputPath, writer, result)
	default:
		err = fmt.Errorf("unsupported file format: %s", format)
	}

	if cerr := writer.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to finalize output: %w", cerr)
	}

	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	p.logger.Info("Redaction run completed",
		zap.Int64("total_rows", result.TotalRows),
		zap.Int64("emitted", result.Emitted),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("flagged", result.Flagged),
		zap.Duration("total_duration", result.Duration))

	return result, nil
}

// processCSV reads CSV input with record_id and data_json columns
func (p *Pipeline) processCSV(ctx context.Context, filePath string, w recordWriter, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	idIdx, dataIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "record_id":
			idIdx = i
		case "data_json":
			dataIdx = i
		case "data": // legacy column name
			if dataIdx == -1 {
				dataIdx = i
			}
		}
	}
	if idIdx == -1 || dataIdx == -1 {
		return errors.New("CSV header is missing the record_id or data_json column")
	}

	p.logger.Info("CSV header detected", zap.Strings("columns", header))

	return p.processBatches(ctx, func() ([]Row, error) {
		var batch []Row

		for len(batch) < p.config.BatchSize {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				// Quote and column-count faults are scoped to one line;
				// the reader resyncs on the next.
				result.TotalRows++
				result.Skipped++
				result.addError(fmt.Sprintf("unreadable csv row: %v", err))
				p.logger.Warn("Skipping unreadable CSV row", zap.Error(err))
				continue
			}
			if idIdx >= len(record) || dataIdx >= len(record) {
				result.TotalRows++
				result.Skipped++
				result.addError(fmt.Sprintf("csv row has %d columns", len(record)))
				p.logger.Warn("Skipping short CSV row", zap.Int("columns", len(record)))
				continue
			}

			batch = append(batch, Row{RecordID: record[idIdx], Payload: record[dataIdx]})
		}

		return batch, nil
	}, w, result)
}

// processParquet reads Parquet input with the same two columns
func (p *Pipeline) processParquet(ctx context.Context, filePath string, w recordWriter, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	done := false
	return p.processBatches(ctx, func() ([]Row, error) {
		var batch []Row
		if done {
			return batch, nil
		}

		for len(batch) < p.config.BatchSize {
			var record parquetInputRow
			err := reader.Read(&record)
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				// Column chunks offer no row-level resync; stop reading.
				result.TotalRows++
				result.Skipped++
				result.addError(fmt.Sprintf("parquet read failed: %v", err))
				done = true
				p.logger.Warn("Stopping Parquet read after row failure", zap.Error(err))
				break
			}

			batch = append(batch, Row{RecordID: record.RecordID, Payload: record.Data})
		}

		return batch, nil
	}, w, result)
}

// parquetInputRow mirrors the expected input schema
type parquetInputRow struct {
	RecordID string `parquet:"record_id"`
	Data     string `parquet:"data_json"`
}

// processJSONL reads one {"record_id": ..., "data": {...}} object per line
func (p *Pipeline) processJSONL(ctx context.Context, filePath string, w recordWriter, result *Result) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0

	return p.processBatches(ctx, func() ([]Row, error) {
		var batch []Row

		for len(batch) < p.config.BatchSize && scanner.Scan() {
			line++
			text := bytes.TrimSpace(scanner.Bytes())
			if len(text) == 0 {
				continue
			}

			row, err := decodeJSONLRow(text)
			if err != nil {
				result.TotalRows++
				result.Skipped++
				result.addError(fmt.Sprintf("line %d: %s", line, err.Error()))
				p.logger.Warn("Skipping malformed JSONL row",
					zap.Int("line", line),
					zap.String("reason", err.Error()))
				continue
			}

			batch = append(batch, row)
		}

		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read JSONL file: %w", err)
		}
		return batch, nil
	}, w, result)
}

// decodeJSONLRow splits one line into record id and payload text. The data
// member may be an inline object or a string holding the payload.
func decodeJSONLRow(line []byte) (Row, error) {
	var raw struct {
		RecordID json.RawMessage `json:"record_id"`
		Data     json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(line, &raw); err != nil {
		return Row{}, errors.New("malformed row object")
	}

	row := Row{RecordID: rawScalarString(raw.RecordID)}
	switch {
	case len(raw.Data) == 0 || string(raw.Data) == "null":
		// An absent payload stays empty and is counted as unusable later.
	case raw.Data[0] == '"':
		var s string
		if err := json.Unmarshal(raw.Data, &s); err != nil {
			return Row{}, errors.New("malformed data member")
		}
		row.Payload = s
	default:
		row.Payload = string(raw.Data)
	}
	return row, nil
}

// rawScalarString renders a JSON scalar as its plain-text form.
func rawScalarString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	return string(raw)
}

// processBatches drains the reader batch by batch, redacting each batch on
// the worker pool and writing surviving rows in input order
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]Row, error), w recordWriter, result *Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		outputs := p.redactBatch(batch)

		var emitted, flagged int64
		for _, rec := range outputs {
			if rec == nil {
				result.Skipped++
				continue
			}
			if err := w.Write(*rec); err != nil {
				return fmt.Errorf("failed to write output row: %w", err)
			}
			emitted++
			if rec.IsPII {
				flagged++
			}
			for _, c := range rec.Categories {
				result.CategoryCounts[c]++
			}
		}

		result.TotalRows += int64(len(batch))
		result.Emitted += emitted
		result.Flagged += flagged

		p.updateStats(result)

		if p.config.ProgressReport > 0 && result.TotalRows%int64(p.config.ProgressReport) == 0 {
			p.reportProgress(result)
		}
	}

	return nil
}

// redactBatch fans a batch out to the worker pool. Slots hold results by
// input position; a nil slot is a skipped row.
func (p *Pipeline) redactBatch(batch []Row) []*OutputRecord {
	outputs := make([]*OutputRecord, len(batch))

	workers := p.config.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(batch) {
		workers = len(batch)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for n := 0; n < workers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outputs[i] = p.redactRow(batch[i])
			}
		}()
	}

	for i := range batch {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outputs
}

// redactRow runs one row through the redaction engine. A nil return means
// the row is skipped.
func (p *Pipeline) redactRow(row Row) *OutputRecord {
	if !p.validateRow(row) {
		return nil
	}

	fields, err := privacy.DecodePayload(row.Payload)
	if err != nil {
		p.logger.Debug("Skipping row with unusable payload",
			zap.String("record_id", row.RecordID),
			zap.String("reason", err.Error()))
		return nil
	}

	res := p.engine.Process(privacy.Record{ID: row.RecordID, Fields: fields})

	data, err := res.Fields.EncodeJSON()
	if err != nil {
		p.logger.Warn("Failed to encode redacted payload",
			zap.String("record_id", row.RecordID),
			zap.Error(err))
		return nil
	}

	return &OutputRecord{
		RecordID:   row.RecordID,
		Data:       string(data),
		IsPII:      res.IsPII,
		Categories: res.Categories(),
	}
}

// validateRow applies input guardrails
func (p *Pipeline) validateRow(row Row) bool {
	if !p.config.ValidateData {
		return true
	}

	if len(row.Payload) > maxPayloadBytes {
		p.logger.Debug("Skipping oversized payload",
			zap.String("record_id", row.RecordID),
			zap.Int("bytes", len(row.Payload)))
		return false
	}

	return true
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *Result) {
	elapsed := time.Since(p.stats.StartTime)
	rate := float64(result.TotalRows) / elapsed.Seconds()

	p.logger.Info("Processing progress",
		zap.Int64("rows_read", result.TotalRows),
		zap.Int64("rows_emitted", result.Emitted),
		zap.Int64("rows_skipped", result.Skipped),
		zap.Int64("rows_flagged", result.Flagged),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

// updateStats refreshes the shared statistics snapshot
func (p *Pipeline) updateStats(result *Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.RowsRead = result.TotalRows
	p.stats.RowsEmitted = result.Emitted
	p.stats.RowsSkipped = result.Skipped
	p.stats.RowsFlagged = result.Flagged
	p.stats.CurrentBatch++
	if elapsed := time.Since(p.stats.StartTime).Seconds(); elapsed > 0 {
		p.stats.Rate = float64(result.TotalRows) / elapsed
	}
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &Stats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := *p.stats
	return &stats
}
