package recordsource

import (
	"fmt"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
)

// DefaultTimestampLayout renders timestamps the way a dataframe string cast does:
// "2024-01-01 00:57:55", with fractional seconds only when present.
const DefaultTimestampLayout = "2006-01-02 15:04:05.999999999"

// DefaultTimestampColumns are the trip-time columns of the yellow taxi dataset.
var DefaultTimestampColumns = []string{"tpep_pickup_datetime", "tpep_dropoff_datetime"}

// CoerceTimestamps returns copies of the records with the named columns
// converted to text. It returns the names of the columns that were not present
// in any record, so the caller can warn about them.
func CoerceTimestamps(records []types.Record, columns []string, layout string) ([]types.Record, []string) {
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	seen := make(map[string]bool, len(columns))
	out := make([]types.Record, len(records))
	for i, rec := range records {
		c := rec.Clone()
		for _, col := range columns {
			v, ok := c.Get(col)
			if !ok {
				continue
			}
			seen[col] = true
			c.Set(col, toText(v, layout))
		}
		out[i] = c
	}

	var missing []string
	if len(records) > 0 {
		for _, col := range columns {
			if !seen[col] {
				missing = append(missing, col)
			}
		}
	}
	return out, missing
}

func toText(v any, layout string) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case time.Time:
		return t.Format(layout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.Format(layout)
	default:
		return fmt.Sprintf("%v", t)
	}
}
