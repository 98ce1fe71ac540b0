package data

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spf13/afero"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// Table is a raw CSV table: every cell is kept as text until a formatter
// interprets it according to its column definition.
type Table struct {
	columns []string
	rows    []map[string]string
}

// NewTable builds a table from header-keyed records. Columns are taken from
// the union of record keys.
func NewTable(rows []map[string]string) *Table {
	seen := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return &Table{columns: cols, rows: rows}
}

// ReadCSV parses a CSV document with a header row.
func ReadCSV(r io.Reader) (*Table, error) {
	rows, err := gocsv.CSVToMaps(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse csv")
	}
	if len(rows) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "csv has no data rows")
	}
	return NewTable(rows), nil
}

// LoadCSV reads name from fs.
func LoadCSV(fs afero.Fs, name string) (*Table, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", name)
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Columns returns the sorted column names.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// HasColumn reports whether the table has a column called name.
func (t *Table) HasColumn(name string) bool {
	i := sort.SearchStrings(t.columns, name)
	return i < len(t.columns) && t.columns[i] == name
}

// Value returns the raw cell text.
func (t *Table) Value(row int, col string) string {
	return t.rows[row][col]
}

// Float parses a cell as a number. Empty cells and "nan" read as NaN.
func (t *Table) Float(row int, col string) (float64, error) {
	s := strings.TrimSpace(t.rows[row][col])
	if s == "" {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.NewValueError("Table.Float",
			fmt.Sprintf("row %d column %q: cannot parse %q as a number", row, col, s))
	}
	return v, nil
}

// Floats parses a whole column.
func (t *Table) Floats(col string) ([]float64, error) {
	out := make([]float64, len(t.rows))
	for i := range t.rows {
		v, err := t.Float(i, col)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Strings returns a whole column as text.
func (t *Table) Strings(col string) []string {
	out := make([]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = r[col]
	}
	return out
}

// Subset returns a table with the given rows, in the given order. Records
// are shared with t.
func (t *Table) Subset(rows []int) *Table {
	out := &Table{columns: t.columns, rows: make([]map[string]string, len(rows))}
	for i, r := range rows {
		out.rows[i] = t.rows[r]
	}
	return out
}

// RequireColumns returns an error naming every column in names that t lacks.
func (t *Table) RequireColumns(names ...string) error {
	var missing []string
	for _, n := range names {
		if !t.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return errors.NewValidationError("table", "missing required columns", missing)
	}
	return nil
}
