package store

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"memoryhub/internal/dedupe"
)

// vectorScan decodes the pgvector wire/text representation ("[0.1,0.2,...]")
// returned by pgx for a `vector` column, since pgx has no built-in type for
// it without the optional pgvector-go codec. Scanning through Go's generic
// driver.Value keeps the store package free of an extra codec dependency.
type vectorScan struct {
	values []float32
}

func (v *vectorScan) Scan(src any) error {
	if src == nil {
		return nil
	}
	var s string
	switch t := src.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return fmt.Errorf("vectorScan: unsupported source type %T", src)
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		v.values = nil
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("vectorScan: %w", err)
		}
		out = append(out, float32(f))
	}
	v.values = out
	return nil
}

func (v vectorScan) Value() (driver.Value, error) {
	return vectorLiteral(v.values), nil
}

// vectorOrNil renders a []float32 as a pgvector text literal, or nil when
// empty so the column stays NULL rather than storing a zero vector.
func vectorOrNil(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return vectorLiteral(vec)
}

func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, f := range vec {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// jsonOrEmpty normalizes a nil map to an empty JSON object so the JSONB
// column is never stored as SQL NULL, matching the schema's NOT NULL
// default and sparing every reader a nil check.
func jsonOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// fingerprintOf delegates to the dedupe package's normalization so the
// stored fingerprint always matches what FindByFingerprint looks up with.
func fingerprintOf(content string) string {
	return dedupe.Fingerprint(content)
}
