package catalog

import (
	"database/sql"
	"fmt"
	"strings"

	sweeperr "github.com/sweepdb/sweepdb/internal/errors"
	"github.com/sweepdb/sweepdb/pkg/types"
)

// SelectResultsSQL builds the query that returns a run's rows with
// sequence number greater than a bound placeholder, in ascending
// sequence order. With withLimit the query takes a second placeholder
// capping the number of rows returned.
func SelectResultsSQL(runID int64, schema types.RunSchema, withLimit bool) string {
	var b strings.Builder
	b.WriteString("SELECT seq")
	for _, p := range schema.Params {
		b.WriteString(", ")
		b.WriteString(QuoteIdent(p.Name))
	}
	fmt.Fprintf(&b, " FROM %s WHERE seq > ? ORDER BY seq", ResultsTableName(runID))
	if withLimit {
		b.WriteString(" LIMIT ?")
	}
	return b.String()
}

// ScanResult scans the current row of a results query into a sequence
// number and a ResultRow, decoding each column by its declared
// paramtype. NULL columns become the explicit "no value" marker.
func ScanResult(rows *sql.Rows, schema types.RunSchema) (int64, types.ResultRow, error) {
	dest := make([]interface{}, 1+len(schema.Params))
	var seq int64
	dest[0] = &seq
	raw := make([]interface{}, len(schema.Params))
	for i := range schema.Params {
		dest[i+1] = &raw[i]
	}

	if err := rows.Scan(dest...); err != nil {
		return 0, nil, fmt.Errorf("catalog: failed to scan result row: %w", err)
	}

	row := make(types.ResultRow, len(schema.Params))
	for i, p := range schema.Params {
		v, err := decodeValue(p, raw[i])
		if err != nil {
			return 0, nil, err
		}
		row[p.Name] = v
	}
	return seq, row, nil
}

// decodeValue converts a driver value into a tagged Value per the
// parameter's declared type.
func decodeValue(p types.ParamSpec, raw interface{}) (types.Value, error) {
	if raw == nil {
		return types.Null(), nil
	}
	switch p.Type {
	case types.ParamNumeric:
		switch v := raw.(type) {
		case float64:
			return types.Num(v), nil
		case int64:
			return types.Num(float64(v)), nil
		}
	case types.ParamText:
		switch v := raw.(type) {
		case string:
			return types.Text(v), nil
		case []byte:
			return types.Text(string(v)), nil
		}
	case types.ParamArray:
		if b, ok := raw.([]byte); ok {
			vs, err := types.DecodeArray(b)
			if err != nil {
				return types.Value{}, sweeperr.NewInternalError(
					fmt.Sprintf("catalog: corrupt array blob for parameter %q", p.Name), err)
			}
			return types.Array(vs), nil
		}
	}
	return types.Value{}, sweeperr.NewInternalError(
		fmt.Sprintf("catalog: stored value for parameter %q has unexpected type %T", p.Name, raw), nil)
}
