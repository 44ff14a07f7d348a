package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

// MintRecord is one exported Wizard mint.
type MintRecord struct {
	ID        string
	Account   string
	TokenID   string
	Mode      string
	Height    uint64
	CreatedAt time.Time
}

func (r MintRecord) createdAt() string {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return created.UTC().Format(time.RFC3339Nano)
}

// MintsCSV builds a CSV export for the supplied mints and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func MintsCSV(records []MintRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"id", "account", "token_id", "mode", "height", "created_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, r := range records {
		row := []string{r.ID, r.Account, r.TokenID, r.Mode, strconv.FormatUint(r.Height, 10), r.createdAt()}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

// MintsJSONL builds a JSON Lines export for the supplied mints and returns
// the serialised payload alongside a checksum.
func MintsJSONL(records []MintRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, r := range records {
		payload := map[string]interface{}{
			"id":         r.ID,
			"account":    r.Account,
			"token_id":   r.TokenID,
			"mode":       r.Mode,
			"height":     r.Height,
			"created_at": r.createdAt(),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
