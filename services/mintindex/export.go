package mintindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"magink/integrations/exports"
)

type parquetMintRow struct {
	ID        string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account   string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	TokenID   string `parquet:"name=token_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mode      string `parquet:"name=mode, type=BYTE_ARRAY, convertedtype=UTF8"`
	Height    int64  `parquet:"name=height, type=INT64"`
	CreatedAt string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Export writes every recorded mint to dir in format ("parquet", "csv" or
// "jsonl") and returns the file path and row count.
func (i *Indexer) Export(ctx context.Context, dir, format string) (string, int, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "", "parquet":
		return i.ExportParquet(ctx, dir)
	case "csv", "jsonl":
	default:
		return "", 0, fmt.Errorf("mintindex: unknown export format %q", format)
	}

	mints, err := i.Mints(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("mintindex: load mints: %w", err)
	}
	records := make([]exports.MintRecord, 0, len(mints))
	for _, m := range mints {
		records = append(records, exports.MintRecord{
			ID:        m.ID.String(),
			Account:   m.Account,
			TokenID:   m.TokenID,
			Mode:      m.Mode,
			Height:    m.Height,
			CreatedAt: m.CreatedAt,
		})
	}
	var data []byte
	var sum string
	if format == "csv" {
		data, sum, err = exports.MintsCSV(records)
	} else {
		data, sum, err = exports.MintsJSONL(records)
	}
	if err != nil {
		return "", 0, fmt.Errorf("mintindex: encode %s: %w", format, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("mintindex: create export dir: %w", err)
	}
	path := filepath.Join(dir, exportName(format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", 0, fmt.Errorf("mintindex: write export: %w", err)
	}
	i.logger.Info("exported mints", "path", path, "rows", len(records), "checksum", sum)
	return path, len(records), nil
}

func exportName(ext string) string {
	return fmt.Sprintf("wizard-mints-%s.%s", time.Now().UTC().Format("20060102T150405Z"), ext)
}

// ExportParquet writes every recorded mint to dir and returns the file path
// and row count.
func (i *Indexer) ExportParquet(ctx context.Context, dir string) (string, int, error) {
	mints, err := i.Mints(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("mintindex: load mints: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("mintindex: create export dir: %w", err)
	}
	path := filepath.Join(dir, exportName("parquet"))
	if err := writeMintsParquet(path, mints); err != nil {
		return "", 0, err
	}
	i.logger.Info("exported mints", "path", path, "rows", len(mints))
	return path, len(mints), nil
}

func writeMintsParquet(path string, mints []Mint) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("mintindex: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetMintRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("mintindex: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, mint := range mints {
		row := &parquetMintRow{
			ID:        mint.ID.String(),
			Account:   mint.Account,
			TokenID:   mint.TokenID,
			Mode:      mint.Mode,
			Height:    int64(mint.Height),
			CreatedAt: mint.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("mintindex: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("mintindex: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("mintindex: close parquet file: %w", err)
	}
	return nil
}
