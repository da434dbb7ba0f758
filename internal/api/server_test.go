package api

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eeg-io-engine/internal/metrics"
	"eeg-io-engine/internal/ndarray"
	"eeg-io-engine/internal/pipeline"
	"eeg-io-engine/internal/types"
)

func newTestServer(t *testing.T) (*httptest.Server, ndarray.Array) {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)

	x := ndarray.New(20, 2, 3)
	for i := range x.Data {
		x.Data[i] = float64(i)
	}
	y := ndarray.New(20, 1)
	for i := range y.Data {
		y.Data[i] = float64(i % 2)
	}

	ioPath := filepath.Join(t.TempDir(), "ds")
	_, err := pipeline.Build(context.Background(), pipeline.FromArrays(x, y), pipeline.Options{
		IOPath:              ioPath,
		NumSamplesPerWorker: 10,
		Logger:              logger,
	})
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	ds, err := pipeline.OpenDataset(ioPath, pipeline.DatasetOptions{
		Logger:  logger,
		Metrics: metrics.New(reg),
		LabelTransform: func(row types.Row) (any, error) {
			return row["0"], nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	srv := httptest.NewServer(NewServer(ds, reg, logger).Router())
	t.Cleanup(srv.Close)
	return srv, x
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServerRecords(t *testing.T) {
	srv, x := newTestServer(t)

	var rec RecordResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/records/13", &rec))
	assert.Equal(t, "1_3", rec.ClipID)
	assert.Equal(t, []int{2, 3}, rec.Shape)
	assert.Equal(t, Floats(x.At(13).Data), rec.Data)
	assert.Equal(t, 1.0, rec.Label)

	var body map[string]any
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/records/20", &body))
	assert.Contains(t, body["error"], "out of range")
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/records/abc", nil))
}

func TestServerInfoEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	var health map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &health))
	assert.Equal(t, true, health["ok"])
	assert.Equal(t, 20.0, health["records"])

	var stats pipeline.Description
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/stats", &stats))
	assert.Equal(t, "mmap", stats.IOMode)
	assert.Equal(t, 20, stats.Records)
	assert.Equal(t, uint64(20), stats.Signals)

	var root map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/", &root))
	assert.Contains(t, root["endpoints"], "/metrics")
}

func TestServerMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/records/0", &RecordResponse{}))
	getJSON(t, srv.URL+"/records/99", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.Contains(text, `eegio_dataset_reads_total{outcome="ok"} 1`), text)
	assert.True(t, strings.Contains(text, `eegio_dataset_reads_total{outcome="error"} 1`), text)
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, "127.0.0.1:0", time.Second) }()
	cancel()
	assert.NoError(t, <-done)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestRecordResponseNonFinite(t *testing.T) {
	signal := ndarray.New(1, 3)
	signal.Data[0] = math.NaN()
	signal.Data[1] = math.Inf(-1)
	signal.Data[2] = 0.5
	label := types.Row{types.ClipIDKey: "0_4", "0": math.Inf(1), "1": 2.0}

	data, err := json.Marshal(NewRecordResponse(4, "0_4", signal, label))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"data":["NaN","-Infinity",0.5]`)
	assert.Contains(t, string(data), `"0":"Infinity"`)

	var rec RecordResponse
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.True(t, math.IsNaN(float64(rec.Data[0])))
	assert.True(t, math.IsInf(float64(rec.Data[1]), -1))
	assert.Equal(t, Float(0.5), rec.Data[2])

	var f Float
	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &f))
}
