package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"chainSync/internal/model"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func TestJsonlStorageAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "events.jsonl")
	errorsPath := filepath.Join(dir, "out", "errors.jsonl")
	s := NewJsonlStorage(path, errorsPath)

	amount, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	record := model.EventRecord{
		ChainID:     1337,
		Address:     "0xabc",
		Event:       "Stake",
		ArgNames:    []string{"staker", "amount"},
		Args:        []any{common.HexToAddress("0x01"), amount},
		BlockNumber: 7,
		TxHash:      "0xdead",
		LogIndex:    2,
	}

	ctx := context.Background()
	if err := s.PutEvents(ctx, []model.EventRecord{record}); err != nil {
		t.Fatalf("put events: %v", err)
	}
	record.LogIndex = 3
	if err := s.PutEvents(ctx, []model.EventRecord{record}); err != nil {
		t.Fatalf("put events: %v", err)
	}
	if err := s.PutEvents(ctx, nil); err != nil {
		t.Fatalf("put empty batch: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	args := lines[0]["args"].([]any)
	if args[1] != amount.String() {
		t.Fatalf("amount encoded as %v", args[1])
	}
	if lines[1]["log_index"].(float64) != 3 {
		t.Fatalf("unexpected second line: %v", lines[1])
	}

	if err := s.PutDecodeErrors(ctx, []model.DecodeError{{TxHash: "0xbad", Error: "short data"}}); err != nil {
		t.Fatalf("put decode errors: %v", err)
	}
	errs := readLines(t, errorsPath)
	if len(errs) != 1 || errs[0]["error"] != "short data" {
		t.Fatalf("unexpected decode errors: %v", errs)
	}
}

func TestJsonlStorageWithoutErrorsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	s := NewJsonlStorage(path, "")
	if err := s.PutDecodeErrors(context.Background(), []model.DecodeError{{TxHash: "0x1"}}); err != nil {
		t.Fatalf("put decode errors: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file, got %v", err)
	}
}
