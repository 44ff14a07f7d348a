package exports

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"
)

func sampleRecords() []MintRecord {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return []MintRecord{
		{ID: "a", Account: "mgk1alice", TokenID: "0", Mode: "local", Height: 9, CreatedAt: created},
		{ID: "b", Account: "mgk1bob", TokenID: "1", Mode: "local", Height: 12, CreatedAt: created},
	}
}

func TestMintsCSV(t *testing.T) {
	data, sum, err := MintsCSV(sampleRecords())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(sum) != 64 {
		t.Fatalf("unexpected checksum %q", sum)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[2][1] != "mgk1bob" || rows[2][4] != "12" || rows[2][5] != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected row %v", rows[2])
	}
}

func TestMintsJSONL(t *testing.T) {
	data, sum, err := MintsJSONL(sampleRecords())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	again, sumAgain, _ := MintsJSONL(sampleRecords())
	if !bytes.Equal(data, again) || sum != sumAgain {
		t.Fatalf("expected deterministic output")
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for scanner.Scan() {
		var row map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}
