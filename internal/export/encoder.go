// Package export streams a list's current content into a CSV object in object
// storage. The Driver pages content ids, the CSVEncoder serializes looked-up
// records, and finished file segments are uploaded as multipart parts.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mmrzaf/listmat/internal/domain"
)

// CSVEncoder writes records as CSV rows. The header row, built from column
// labels, is written once across every stream the encoder is Reset to.
type CSVEncoder struct {
	columns     []domain.ColumnMeta
	header      []string
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVEncoder selects the requested fields from entity, keeping the entity's
// column order rather than the request order.
func NewCSVEncoder(entity *domain.EntityType, fields []string) (*CSVEncoder, error) {
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		if _, ok := entity.Column(f); !ok {
			return nil, fmt.Errorf("%w: unknown field %q for %s", domain.ErrInvalidRequest, f, entity.Name)
		}
		want[f] = true
	}
	if len(want) == 0 {
		return nil, fmt.Errorf("%w: no export fields", domain.ErrInvalidRequest)
	}

	e := &CSVEncoder{}
	for _, c := range entity.Columns {
		if !want[c.Name] {
			continue
		}
		e.columns = append(e.columns, c)
		e.header = append(e.header, NormalizeLabel(c.Label, c.Name))
	}
	return e, nil
}

// Columns are the data column names in output order.
func (e *CSVEncoder) Columns() []string {
	out := make([]string, len(e.columns))
	for i, c := range e.columns {
		out[i] = c.Name
	}
	return out
}

func (e *CSVEncoder) Header() []string { return append([]string(nil), e.header...) }

// Reset directs further output to w.
func (e *CSVEncoder) Reset(w io.Writer) {
	e.w = csv.NewWriter(w)
}

// WriteHeader emits the header row if it has not been written yet.
func (e *CSVEncoder) WriteHeader() error {
	if e.w == nil {
		return fmt.Errorf("csv encoder has no output")
	}
	if e.wroteHeader {
		return nil
	}
	if err := e.w.Write(e.header); err != nil {
		return err
	}
	e.wroteHeader = true
	e.w.Flush()
	return e.w.Error()
}

// WriteBatch writes one row per record, after the header on the first call, and
// flushes.
func (e *CSVEncoder) WriteBatch(records []domain.Record) error {
	if err := e.WriteHeader(); err != nil {
		return err
	}
	row := make([]string, len(e.columns))
	for _, r := range records {
		for i, c := range e.columns {
			row[i] = formatValue(c.Type, r.Values[c.Name])
		}
		if err := e.w.Write(row); err != nil {
			return err
		}
	}
	e.w.Flush()
	return e.w.Error()
}

var dashes = strings.NewReplacer(
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-",
	"−", "-", "﹘", "-", "﹣", "-", "－", "-",
)

// NormalizeLabel turns a column label into a header cell: typographic dashes
// become '-', whitespace runs collapse to one space. An empty label falls back
// to the column name.
func NormalizeLabel(label, name string) string {
	out := strings.Join(strings.Fields(dashes.Replace(label)), " ")
	if out == "" {
		return name
	}
	return out
}

func formatValue(t domain.ColumnType, value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		if t == domain.ColumnTypeDate {
			return v.UTC().Format("2006-01-02")
		}
		return v.UTC().Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
