package debug

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadflow"
	"loadflow/network"
	"loadflow/types"
)

func record(t *testing.T) (*Recorder, *loadflow.Result) {
	t.Helper()
	params := types.DefaultParameters()
	params.SlackBusSelectionMode = types.SlackBusFirst
	rec := &Recorder{}
	res, err := loadflow.Run(network.NewEurostagTutorial(), params, loadflow.WithObserver(rec.Observer))
	require.NoError(t, err)
	require.True(t, res.Converged())
	return rec, res
}

func TestRecorder(t *testing.T) {
	rec, res := record(t)
	records := rec.Records()
	require.Len(t, records, 1)
	r := records[0]
	main := res.Main()
	assert.Len(t, r.Solves, main.OuterIterations+1)
	assert.Len(t, r.Mismatch, main.NewtonIterations+len(r.Solves))
	assert.Len(t, r.State, len(r.Mismatch))
	for _, s := range r.Solves {
		assert.Equal(t, "CONVERGED", s.Status)
	}
	assert.Greater(t, r.Mismatch[0], r.Mismatch[1])
	assert.GreaterOrEqual(t, r.Norm[0], r.Mismatch[0])

	var buf bytes.Buffer
	require.NoError(t, rec.Render(&buf))
	var decoded []Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, r.Mismatch, decoded[0].Mismatch)
}

func TestCharts(t *testing.T) {
	rec, _ := record(t)
	c := &Charts{Recorder: rec}
	var buf bytes.Buffer
	require.NoError(t, c.Render(&buf))
	assert.Contains(t, buf.String(), "<html")
	assert.Contains(t, buf.String(), "component 0")

	w := httptest.NewRecorder()
	c.Handler(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "echarts")
}

func TestPlot(t *testing.T) {
	rec, _ := record(t)
	p := &Plot{Recorder: rec}

	var png bytes.Buffer
	require.NoError(t, p.Render(&png, "png"))
	assert.True(t, bytes.HasPrefix(png.Bytes(), []byte("\x89PNG")))

	var svg bytes.Buffer
	require.NoError(t, p.Render(&svg, "svg"))
	assert.Contains(t, svg.String(), "<svg")

	empty := &Plot{Recorder: &Recorder{}}
	assert.Error(t, empty.Render(&svg, "png"))
}
