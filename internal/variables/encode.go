package variables

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// encodeColumnar serializes a set of equal-length float64 columns into a
// small self-describing binary layout (column count, then per-column name
// length/name/row-count/values) and ZSTD-compresses the result. This stands
// in for a full Parquet writer — none of the example repos in the retrieval
// pack import a Parquet library, so the "parquet-like" artifact named in
// spec.md is realized as a compressed columnar blob rather than a literal
// Parquet file; see DESIGN.md.
func encodeColumnar(order []string, columns map[string][]float64) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(order))); err != nil {
		return nil, err
	}
	for _, name := range order {
		col, ok := columns[name]
		if !ok {
			return nil, fmt.Errorf("encodeColumnar: missing column %s", name)
		}
		nameBytes := []byte(name)
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(nameBytes))); err != nil {
			return nil, err
		}
		buf.Write(nameBytes)
		if err := binary.Write(&buf, binary.LittleEndian, uint32(len(col))); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, col); err != nil {
			return nil, err
		}
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("encodeColumnar: failed to create zstd writer: %w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(buf.Bytes(), nil), nil
}

// decodeColumnar reverses encodeColumnar; used by tests to verify round trips.
func decodeColumnar(blob []byte) (order []string, columns map[string][]float64, err error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decodeColumnar: failed to create zstd reader: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decodeColumnar: failed to decompress: %w", err)
	}

	r := bytes.NewReader(raw)
	var numCols uint32
	if err := binary.Read(r, binary.LittleEndian, &numCols); err != nil {
		return nil, nil, err
	}

	order = make([]string, 0, numCols)
	columns = make(map[string][]float64, numCols)
	for i := uint32(0); i < numCols; i++ {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, nil, err
		}
		nameBytes := make([]byte, nameLen)
		if _, err := r.Read(nameBytes); err != nil {
			return nil, nil, err
		}
		var rows uint32
		if err := binary.Read(r, binary.LittleEndian, &rows); err != nil {
			return nil, nil, err
		}
		values := make([]float64, rows)
		if err := binary.Read(r, binary.LittleEndian, values); err != nil {
			return nil, nil, err
		}
		name := string(nameBytes)
		order = append(order, name)
		columns[name] = values
	}
	return order, columns, nil
}
