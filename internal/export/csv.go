package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	sweeperr "github.com/sweepdb/sweepdb/internal/errors"
	"github.com/sweepdb/sweepdb/pkg/types"
)

// WriteCSV renders a materialized table as CSV. The header row carries
// the parameter names with units in parentheses when a unit is set.
// Null values render as empty cells; arrays as semicolon-joined
// floats.
func WriteCSV(w io.Writer, table *Table) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(table.Columns))
	for i, p := range table.Columns {
		if p.Unit != "" {
			header[i] = fmt.Sprintf("%s (%s)", p.Name, p.Unit)
		} else {
			header[i] = p.Name
		}
	}
	if err := cw.Write(header); err != nil {
		return sweeperr.Wrap(sweeperr.ErrCategoryExport, sweeperr.CodeIOFailure,
			"export: failed to write CSV header", err)
	}

	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i, v := range row {
			record[i] = formatCell(v)
		}
		if err := cw.Write(record); err != nil {
			return sweeperr.Wrap(sweeperr.ErrCategoryExport, sweeperr.CodeIOFailure,
				"export: failed to write CSV row", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return sweeperr.Wrap(sweeperr.ErrCategoryExport, sweeperr.CodeIOFailure,
			"export: failed to flush CSV output", err)
	}
	return nil
}

func formatCell(v types.Value) string {
	if v.IsNull() {
		return ""
	}
	switch v.Kind() {
	case types.ParamNumeric:
		f, _ := v.Float()
		return strconv.FormatFloat(f, 'g', -1, 64)
	case types.ParamText:
		s, _ := v.Str()
		return s
	case types.ParamArray:
		fs, _ := v.Floats()
		parts := make([]string, len(fs))
		for i, f := range fs {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return strings.Join(parts, ";")
	}
	return ""
}
