package calibration

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/undistort/internal/lens"
)

const sampleJSON = `{
  "calibration_data": {
    "intrinsic_matrix": [[1000, 0, 320], [0, 1000, 240], [0, 0, 1]],
    "pixel_size": 0.0014,
    "intrinsic_matrix_reference_dimensions": [4032, 3024],
    "lens_distortion_center": [2016, 1512],
    "lens_distortion_lookup_table": [0, 0.001, 0.004, 0.009],
    "inverse_lens_distortion_lookup_table": [0, -0.001, -0.004, -0.009]
  }
}`

func TestParseJSONEnvelope(t *testing.T) {
	rec, err := Parse([]byte(sampleJSON), FormatJSON)
	require.NoError(t, err)
	require.NoError(t, rec.Validate())

	assert.Equal(t, []float64{2016, 1512}, rec.Center)
	assert.InDelta(t, 0.0014, rec.PixelSize, 1e-12)
	assert.Len(t, rec.IntrinsicMatrix, 3)

	table, err := rec.Table(false)
	require.NoError(t, err)
	assert.Equal(t, lens.LookupTable{0, 0.001, 0.004, 0.009}, table)

	inv, err := rec.Table(true)
	require.NoError(t, err)
	assert.InDelta(t, -0.009, inv.Last(), 0)
}

func TestParseBareJSON(t *testing.T) {
	rec, err := Parse([]byte(`{"lens_distortion_center":[1,2],"lens_distortion_lookup_table":[0,1]}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, rec.Center)

	_, err = rec.Table(true)
	require.ErrorIs(t, err, ErrNoTable)
}

func TestParseYAML(t *testing.T) {
	doc := `
calibration_data:
  lens_distortion_center: [10, 20]
  lens_distortion_lookup_table: [0, 0.5, 1]
`
	rec, err := Parse([]byte(doc), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, rec.Center)
	assert.Equal(t, []float64{0, 0.5, 1}, rec.LookupTable)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte(`{"lens_distortion_lookup_table": "nope"}`), FormatJSON)
	require.Error(t, err)

	_, err = Parse([]byte("x"), Format("xml"))
	require.Error(t, err)

	_, err = Parse([]byte{1, 2, 3}, FormatFloat32)
	require.Error(t, err)
}

func TestCenterFor(t *testing.T) {
	rec := &Record{Center: []float64{2016, 1512}, ReferenceDimensions: []float64{4032, 3024}}

	c, err := rec.CenterFor(640, 480)
	require.NoError(t, err)
	assert.InDelta(t, 320, c.X, 1e-9)
	assert.InDelta(t, 240, c.Y, 1e-9)

	_, err = rec.CenterFor(0, 480)
	require.ErrorIs(t, err, lens.ErrPrecondition)

	raw := &Record{Center: []float64{3.5, 4.25}}
	c, err = raw.CenterFor(99, 99)
	require.NoError(t, err)
	assert.Equal(t, lens.Point{X: 3.5, Y: 4.25}, c)

	_, err = (&Record{}).CenterFor(10, 10)
	require.ErrorIs(t, err, ErrNoCenter)

	_, err = (&Record{Center: []float64{math.NaN(), 1}}).CenterFor(10, 10)
	require.ErrorIs(t, err, lens.ErrInvalidCenter)

	huge := &Record{Center: []float64{math.MaxFloat64, 1}, ReferenceDimensions: []float64{1e-300, 1}}
	_, err = huge.CenterFor(10, 10)
	require.ErrorIs(t, err, lens.ErrInvalidCenter)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{name: "forward only", rec: Record{LookupTable: []float64{0, 1}}},
		{name: "inverse only", rec: Record{InverseLookupTable: []float64{0, 1}}},
		{name: "no tables", rec: Record{Center: []float64{1, 1}}, wantErr: true},
		{name: "short table", rec: Record{LookupTable: []float64{1}}, wantErr: true},
		{name: "bad center", rec: Record{LookupTable: []float64{0, 1}, Center: []float64{1}}, wantErr: true},
		{name: "bad reference", rec: Record{LookupTable: []float64{0, 1}, ReferenceDimensions: []float64{1, 2, 3}}, wantErr: true},
		{name: "NaN center", rec: Record{LookupTable: []float64{0, 1}, Center: []float64{math.NaN(), 1}}, wantErr: true},
		{name: "infinite reference", rec: Record{LookupTable: []float64{0, 1}, ReferenceDimensions: []float64{math.Inf(1), 2}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, lens.ErrPrecondition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadDetectsFormat(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "cal.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(sampleJSON), 0o600))
	rec, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Len(t, rec.LookupTable, 4)

	txtPath := filepath.Join(dir, "table.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("# radial table\n0, 0.25\n0.5 0.75\n"), 0o600))
	rec, err = Load(txtPath)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75}, rec.LookupTable)
	assert.Equal(t, rec.LookupTable, rec.InverseLookupTable)
	assert.False(t, rec.HasCenter())

	binPath := filepath.Join(dir, "table.f32")
	require.NoError(t, os.WriteFile(binPath, EncodeFloat32Table([]float64{0, 0.5, -1.25}), 0o600))
	rec, err = Load(binPath)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, -1.25}, rec.LookupTable)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatYAML, DetectFormat("a/b.YML"))
	assert.Equal(t, FormatText, DetectFormat("lut.csv"))
	assert.Equal(t, FormatFloat32, DetectFormat("lut.bin"))
	assert.Equal(t, FormatJSON, DetectFormat("calibration"))
}

func TestParseTextTable(t *testing.T) {
	values, err := ParseTextTable(strings.NewReader("1;2\t3\n\n# c\n4,5"))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, values)

	_, err = ParseTextTable(strings.NewReader("1, abc"))
	require.ErrorContains(t, err, "line 1")
}

func TestMarshalRoundTripFormats(t *testing.T) {
	rec := &Record{Center: []float64{1, 2}, LookupTable: []float64{0, 1}}
	for _, f := range []Format{FormatJSON, FormatYAML} {
		data, err := rec.Marshal(f)
		require.NoError(t, err)
		back, err := Parse(data, f)
		require.NoError(t, err)
		assert.Equal(t, rec, back)
	}
	_, err := rec.Marshal(FormatText)
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	rec := &Record{LookupTable: []float64{0, 0.5, 1, 2.5}, Center: []float64{1, 2}}
	s := rec.Summarize()
	require.NotNil(t, s.Forward)
	assert.Nil(t, s.Inverse)
	assert.Equal(t, 4, s.Forward.Samples)
	assert.InDelta(t, 0, s.Forward.Min, 0)
	assert.InDelta(t, 2.5, s.Forward.Max, 0)
	assert.InDelta(t, 1.0, s.Forward.Mean, 1e-12)
}

func TestParseYAML_NaNCenterRejected(t *testing.T) {
	rec, err := Parse([]byte("lens_distortion_lookup_table: [0, 0.1]\nlens_distortion_center: [.nan, 4]\n"), FormatYAML)
	require.NoError(t, err)
	require.ErrorIs(t, rec.Validate(), ErrInvalidRecord)
	assert.ErrorIs(t, ErrNoTable, lens.ErrPrecondition)
}
