package calibration

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ParseTextTable reads lookup table samples separated by commas, semicolons
// or whitespace. Blank lines and lines starting with '#' are ignored.
func ParseTextTable(r io.Reader) ([]float64, error) {
	var values []float64
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t'
		})
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid sample %q: %w", line, f, err)
			}
			values = append(values, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	return values, nil
}

// ParseFloat32Table decodes a packed little-endian float32 table, the
// encoding devices use for lens_distortion_lookup_table blobs.
func ParseFloat32Table(data []byte) ([]float64, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 table length %d is not a multiple of 4", len(data))
	}
	values := make([]float64, len(data)/4)
	for i := range values {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		values[i] = float64(math.Float32frombits(bits))
	}
	return values, nil
}

// EncodeFloat32Table packs samples as little-endian float32.
func EncodeFloat32Table(values []float64) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
	}
	return out
}
