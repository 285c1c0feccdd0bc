package recordsource

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/types"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
)

const readBatchSize = 512

// columnDecoder converts a single parquet leaf value into a Go value suitable
// for JSON serialization.
type columnDecoder func(v parquet.Value) any

type leafColumn struct {
	name     string
	decode   columnDecoder
	repeated bool
}

// DecodeParquet decodes an in-memory parquet file into records, one per row,
// in file order. limit caps the number of rows returned; zero means all rows.
func DecodeParquet(data []byte, limit int) ([]types.Record, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet data: %w", err)
	}

	leaves := leafColumns(f.Schema())
	total := int(f.NumRows())
	if limit > 0 && limit < total {
		total = limit
	}
	records := make([]types.Record, 0, total)

	buf := make([]parquet.Row, readBatchSize)
	for _, rg := range f.RowGroups() {
		if len(records) >= total {
			break
		}
		if err := readRowGroup(rg, leaves, buf, &records, total); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func readRowGroup(rg parquet.RowGroup, leaves []leafColumn, buf []parquet.Row, records *[]types.Record, total int) error {
	rows := rg.Rows()
	defer rows.Close()

	for len(*records) < total {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			if len(*records) >= total {
				break
			}
			*records = append(*records, rowToRecord(len(*records), row, leaves))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read parquet rows: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func rowToRecord(index int, row parquet.Row, leaves []leafColumn) types.Record {
	rec := types.NewRecord(index, len(leaves))
	for _, leaf := range leaves {
		rec.Set(leaf.name, nil)
	}
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(leaves) {
			continue
		}
		leaf := leaves[col]
		var decoded any
		if !v.IsNull() {
			decoded = leaf.decode(v)
		}
		if !leaf.repeated {
			rec.Set(leaf.name, decoded)
			continue
		}
		// Repeated leaves always decode to a list. Repetition level 0 starts
		// the row's list; a null there is an empty list.
		if v.RepetitionLevel() == 0 {
			list := []any{}
			if !v.IsNull() {
				list = append(list, decoded)
			}
			rec.Set(leaf.name, list)
			continue
		}
		prev, _ := rec.Get(leaf.name)
		list, _ := prev.([]any)
		rec.Set(leaf.name, append(list, decoded))
	}
	return rec
}

func leafColumns(schema *parquet.Schema) []leafColumn {
	paths := schema.Columns()
	leaves := make([]leafColumn, len(paths))
	for i, path := range paths {
		leaves[i] = leafColumn{name: strings.Join(path, ".")}
		if leaf, ok := schema.Lookup(path...); ok {
			leaves[i].decode = decoderFor(leaf.Node.Type())
			leaves[i].repeated = leaf.MaxRepetitionLevel > 0
		} else {
			leaves[i].decode = decodePhysical
		}
	}
	return leaves
}

func decoderFor(t parquet.Type) columnDecoder {
	lt := t.LogicalType()
	if lt == nil {
		if t.Kind() == parquet.ByteArray || t.Kind() == parquet.FixedLenByteArray {
			return decodeString
		}
		return decodePhysical
	}
	switch {
	case lt.Timestamp != nil:
		return decodeTimestamp(lt.Timestamp.Unit)
	case lt.Date != nil:
		return func(v parquet.Value) any {
			return time.Unix(int64(v.Int32())*86400, 0).UTC()
		}
	case lt.Decimal != nil && (t.Kind() == parquet.Int32 || t.Kind() == parquet.Int64):
		scale := math.Pow10(int(lt.Decimal.Scale))
		return func(v parquet.Value) any {
			if v.Kind() == parquet.Int32 {
				return float64(v.Int32()) / scale
			}
			return float64(v.Int64()) / scale
		}
	case lt.Decimal != nil:
		return decodeBytesDecimal(int(lt.Decimal.Scale))
	case lt.Integer != nil && !lt.Integer.IsSigned:
		return decodeUnsigned
	case lt.UTF8 != nil, lt.Enum != nil, lt.Json != nil:
		return decodeString
	}
	return decodePhysical
}

func decodeTimestamp(unit format.TimeUnit) columnDecoder {
	return func(v parquet.Value) any {
		n := v.Int64()
		switch {
		case unit.Millis != nil:
			return time.UnixMilli(n).UTC()
		case unit.Nanos != nil:
			return time.Unix(0, n).UTC()
		default:
			return time.UnixMicro(n).UTC()
		}
	}
}

// decodeUnsigned reinterprets the physical signed value of an unsigned column.
func decodeUnsigned(v parquet.Value) any {
	if v.Kind() == parquet.Int32 {
		return v.Uint32()
	}
	return v.Uint64()
}

// decodeBytesDecimal decodes a big-endian two's complement unscaled value, the
// layout used for FIXED_LEN_BYTE_ARRAY and BYTE_ARRAY decimals.
func decodeBytesDecimal(scale int) columnDecoder {
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	return func(v parquet.Value) any {
		b := v.ByteArray()
		unscaled := new(big.Int).SetBytes(b)
		if len(b) > 0 && b[0]&0x80 != 0 {
			unscaled.Sub(unscaled, new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8)))
		}
		f, _ := new(big.Rat).SetFrac(unscaled, denom).Float64()
		return f
	}
}

func decodeString(v parquet.Value) any {
	return string(v.ByteArray())
}

func decodePhysical(v parquet.Value) any {
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return v.Int32()
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return v.Float()
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return fmt.Sprintf("%v", v)
	}
}
