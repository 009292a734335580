package dataset

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/pulse/internal/model"
)

const telemetry = `Timestamp;IT_Load;Temp;Humidity;PUE
2026-01-01 00:00:00;100;20;40;1.20
2026-01-01 01:00:00;110;21;42;1.25
2026-01-01 02:00:00;120;23;39;1.30
2026-01-01 03:00:00;130;;41;1.35
2026-01-01 04:00:00;140;22;40;1.40
`

type stubSummaries map[string]*model.Summary

func (s stubSummaries) ReadSummary(name string) (*model.Summary, error) {
	if sum, ok := s[name]; ok {
		return sum, nil
	}
	return nil, model.NotFound("summary for model %q not found", name)
}

func newTestService(t *testing.T, summaries stubSummaries) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	return NewService(dir, summaries), dir
}

func TestParse_NormalisesHeaders(t *testing.T) {
	tbl, err := Parse(strings.NewReader("\ufeff Timestamp ;PUE\nx;1\n\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"timestamp", "pue"}, tbl.Columns)
	assert.Len(t, tbl.Rows, 1)
}

func TestTable_XYDropsIncompleteRows(t *testing.T) {
	tbl, err := Parse(strings.NewReader(telemetry))
	require.NoError(t, err)

	X, y, err := tbl.XY([]string{"it_load", "temp"})
	require.NoError(t, err)
	assert.Len(t, X, 4)
	assert.Equal(t, []float64{100, 20}, X[0])
	assert.Equal(t, []float64{1.2, 1.25, 1.3, 1.4}, y)

	_, _, err = tbl.XY([]string{"nope"})
	assert.True(t, model.IsValidation(err))
	_, _, err = tbl.XY(nil)
	assert.True(t, model.IsValidation(err))
}

func TestTable_NumericColumns(t *testing.T) {
	tbl, err := Parse(strings.NewReader(telemetry))
	require.NoError(t, err)
	assert.Equal(t, []string{"it_load", "temp", "humidity", "pue"}, tbl.NumericColumns())
}

func TestService_UploadCSV(t *testing.T) {
	svc, dir := newTestService(t, nil)

	cols, err := svc.Upload("dc1", "data.csv", []byte(telemetry))
	require.NoError(t, err)
	assert.Equal(t, []string{"timestamp", "it_load", "temp", "humidity", "pue"}, cols)

	data, err := os.ReadFile(filepath.Join(dir, "dc1.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "timestamp;it_load;temp;humidity;pue\n"))

	_, err = svc.Upload("../x", "data.csv", []byte(telemetry))
	assert.True(t, model.IsValidation(err))
}

func TestService_UploadXLSX(t *testing.T) {
	svc, _ := newTestService(t, nil)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, r := range [][]string{{"Temp", "PUE"}, {"20", "1.2"}, {"22", "1.3"}} {
		row := sheet.AddRow()
		for _, c := range r {
			row.AddCell().SetString(c)
		}
	}
	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.Save(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	cols, err := svc.Upload("dc1", "book.XLSX", data)
	require.NoError(t, err)
	assert.Equal(t, []string{"temp", "pue"}, cols)

	tbl, err := svc.Open("dc1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"20", "1.2"}, {"22", "1.3"}}, tbl.Rows)
}

func TestService_LoadSample(t *testing.T) {
	svc, dir := newTestService(t, nil)

	_, err := svc.LoadSample("dc1")
	assert.True(t, model.IsNotFound(err))

	require.NoError(t, os.WriteFile(filepath.Join(dir, SampleName), []byte(telemetry), 0o644))
	cols, err := svc.LoadSample("dc1")
	require.NoError(t, err)
	assert.Contains(t, cols, "pue")
	_, err = os.Stat(filepath.Join(dir, "dc1.csv"))
	assert.NoError(t, err)
}

func TestService_SuggestFeatures(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Upload("dc1", "d.csv", []byte(telemetry))
	require.NoError(t, err)

	s, err := svc.SuggestFeatures("dc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"it_load", "temp"}, s.Suggested)
	assert.InDelta(t, 1.0, s.Correlations["pue"], 1e-9)
	assert.Less(t, s.Correlations["humidity"], SuggestThreshold)

	_, err = svc.Upload("nopue", "d.csv", []byte("a;b\n1;2\n"))
	require.NoError(t, err)
	_, err = svc.SuggestFeatures("nopue")
	assert.True(t, model.IsValidation(err))

	_, err = svc.SuggestFeatures("ghost")
	assert.True(t, model.IsNotFound(err))
}

func TestService_ExampleInput(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Upload("dc1", "d.csv", []byte(telemetry))
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 10; i++ {
		ex, err := svc.ExampleInput("dc1", []string{"temp", "humidity"}, rng)
		require.NoError(t, err)
		assert.Len(t, ex, 2)
		assert.NotEqual(t, 0.0, ex["temp"], "incomplete rows are never picked")
	}

	_, err = svc.ExampleInput("dc1", []string{"temp", "ghost"}, rng)
	assert.True(t, model.IsValidation(err))
}

func TestService_ListAndLoad(t *testing.T) {
	svc, _ := newTestService(t, stubSummaries{
		"dc1": {ModelName: "dc1", Features: []string{"it_load", "temp", "gone"}},
	})
	_, err := svc.Upload("dc1", "d.csv", []byte(telemetry))
	require.NoError(t, err)
	_, err = svc.Upload("dc2", "d.csv", []byte(telemetry))
	require.NoError(t, err)

	names, err := svc.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"dc1.csv", "dc2.csv"}, names)

	p, err := svc.Load("dc1.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"it_load", "temp"}, p.Columns)
	assert.Len(t, p.Sample, 5)
	assert.Equal(t, 100.0, p.Sample[0]["it_load"])
	assert.Nil(t, p.Sample[3]["temp"])
	assert.Equal(t, 4.0, p.Summary["temp"]["count"])
	assert.Equal(t, 120.0, p.Summary["it_load"]["50%"])
	assert.Equal(t, 140.0, p.Summary["it_load"]["max"])

	_, err = svc.Load("dc2.csv")
	assert.True(t, model.IsNotFound(err), "no summary for dc2")
	_, err = svc.Load("missing.csv")
	assert.True(t, model.IsNotFound(err))
	_, err = svc.Load("../dc1.csv")
	assert.True(t, model.IsValidation(err))
}

func TestService_Filter(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Upload("dc1", "d.csv", []byte(telemetry))
	require.NoError(t, err)

	tests := []struct {
		name    string
		filters []Filter
		want    int
	}{
		{"greater", []Filter{{Column: "it_load", Operator: ">", Value: 110.0}}, 3},
		{"less-equal", []Filter{{Column: "it_load", Operator: "<=", Value: 110.0}}, 2},
		{"equal", []Filter{{Column: "pue", Operator: "==", Value: 1.3}}, 1},
		{"chained", []Filter{
			{Column: "it_load", Operator: ">=", Value: 110.0},
			{Column: "humidity", Operator: "!=", Value: 42.0},
		}, 3},
		{"missing is not equal", []Filter{{Column: "temp", Operator: "!=", Value: 20.0}}, 4},
		{"string value", []Filter{{Column: "timestamp", Operator: "==", Value: "2026-01-01 00:00:00"}}, 1},
		{"none", nil, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Filter("dc1.csv", tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.TotalRows)
			assert.Len(t, res.FilteredSample, tt.want)
		})
	}

	_, err = svc.Filter("dc1.csv", []Filter{{Column: "pue", Operator: "~", Value: 1.0}})
	assert.True(t, model.IsValidation(err))
	_, err = svc.Filter("dc1.csv", []Filter{{Column: "ghost", Operator: ">", Value: 1.0}})
	assert.True(t, model.IsValidation(err))
	_, err = svc.Filter("ghost.csv", nil)
	assert.True(t, model.IsNotFound(err))
}

func TestStats(t *testing.T) {
	xs := []float64{1, 2, 3, 4}
	assert.InDelta(t, 2.5, Mean(xs), 1e-12)
	assert.InDelta(t, 1.2909944, Std(xs), 1e-6)
	assert.InDelta(t, 1.75, Quantile(xs, 0.25), 1e-12)
	assert.InDelta(t, 1.0, Pearson(xs, []float64{2, 4, 6, 8}), 1e-12)
	assert.True(t, isNaN(Pearson(xs, []float64{1, 1, 1, 1})))

	d := Describe([]float64{5})
	assert.Equal(t, 1.0, d["count"])
	_, hasStd := d["std"]
	assert.False(t, hasStd)
}

func isNaN(f float64) bool { return f != f }
