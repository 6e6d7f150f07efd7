package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"chainSync/internal/model"
)

// JsonlStorage appends event records and decode errors to JSONL files.
type JsonlStorage struct {
	path       string
	errorsPath string
	mu         sync.Mutex
}

// NewJsonlStorage writes records to path. Decode errors go to errorsPath; they are
// dropped when errorsPath is empty.
func NewJsonlStorage(path, errorsPath string) *JsonlStorage {
	return &JsonlStorage{path: path, errorsPath: errorsPath}
}

// PutEvents appends a batch of records as JSON lines.
func (s *JsonlStorage) PutEvents(ctx context.Context, records []model.EventRecord) error {
	lines := make([]any, len(records))
	for i := range records {
		lines[i] = records[i]
	}
	return s.append(s.path, lines)
}

// PutDecodeErrors appends a batch of decode errors as JSON lines.
func (s *JsonlStorage) PutDecodeErrors(ctx context.Context, errs []model.DecodeError) error {
	if s.errorsPath == "" {
		return nil
	}
	lines := make([]any, len(errs))
	for i := range errs {
		lines[i] = errs[i]
	}
	return s.append(s.errorsPath, lines)
}

func (s *JsonlStorage) append(path string, lines []any) error {
	if len(lines) == 0 {
		return nil
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, v := range lines {
		line, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
