package service

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
)

// maxLineSize bounds one JSON line; MARC-derived records can be large.
const maxLineSize = 10 * 1024 * 1024

// parquetBatch is how many rows are read from a parquet file at once.
const parquetBatch = 128

// ImportFileExtensions lists the file types ReadImportFile understands.
var ImportFileExtensions = []string{".jsonl", ".json", ".parquet"}

// IsImportFile reports whether path has a supported extension.
func IsImportFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ImportFileExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ReadImportFile yields the records of a .jsonl/.json or .parquet file.
// The file is opened when iteration starts and closed when it ends.
func ReadImportFile(path string) iter.Seq2[ImportRecord, error] {
	return func(yield func(ImportRecord, error) bool) {
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".jsonl", ".json":
			readJSONLFile(path, yield)
		case ".parquet":
			readParquetFile(path, yield)
		default:
			yield(ImportRecord{}, domainerrors.Validationf("unsupported file format: %s (supported: .jsonl, .json, .parquet)", ext))
		}
	}
}

func readJSONLFile(path string, yield func(ImportRecord, error) bool) {
	file, err := os.Open(path) //#nosec G304 -- import path comes from the operator
	if err != nil {
		yield(ImportRecord{}, fmt.Errorf("open import file: %w", err))
		return
	}
	defer file.Close()

	for rec, err := range ReadJSONL(file) {
		if !yield(rec, err) || err != nil {
			return
		}
	}
}

// ReadJSONL yields one ImportRecord per non-empty line of r.
func ReadJSONL(r io.Reader) iter.Seq2[ImportRecord, error] {
	return func(yield func(ImportRecord, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var rec ImportRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				yield(ImportRecord{}, domainerrors.Validationf("line %d: %v", lineNum, err).WithCause(err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(ImportRecord{}, fmt.Errorf("read line %d: %w", lineNum+1, err))
		}
	}
}

func readParquetFile(path string, yield func(ImportRecord, error) bool) {
	file, err := os.Open(path) //#nosec G304 -- import path comes from the operator
	if err != nil {
		yield(ImportRecord{}, fmt.Errorf("open import file: %w", err))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		yield(ImportRecord{}, fmt.Errorf("stat import file: %w", err))
		return
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		yield(ImportRecord{}, domainerrors.Wrap(err, domainerrors.CodeValidation, "open parquet"))
		return
	}

	reader := parquet.NewGenericReader[ImportRecord](pf)
	defer reader.Close()

	rows := make([]ImportRecord, parquetBatch)
	for {
		n, err := reader.Read(rows)
		for _, rec := range rows[:n] {
			if !yield(rec, nil) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(ImportRecord{}, fmt.Errorf("read parquet rows: %w", err))
			return
		}
	}
}
