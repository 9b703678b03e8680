package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxvaer/apihunter/internal/logging"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveProbe(ResultPersisted, 10)
		c.ObserveAttempts(3)
		c.ObserveCoolDown("a.example")
		c.ObserveSinkRecord("jsonl", true)
		c.InflightAdd(1)
	})
	assert.Nil(t, c.Registry())
	assert.NoError(t, c.Serve(context.Background(), "127.0.0.1:0", nil))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.ObserveProbe(ResultPersisted, 40)
	c.ObserveProbe(ResultPersisted, 400)
	c.ObserveProbe(ResultUnreachable, 0)
	c.ObserveAttempts(3)
	c.ObserveAttempts(0)
	c.ObserveCoolDown("a.example")
	c.ObserveCoolDown("a.example")
	c.ObserveSinkRecord("jsonl", true)
	c.ObserveSinkRecord("csv", false)
	c.InflightAdd(2)
	c.InflightAdd(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.probes.WithLabelValues(ResultPersisted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.probes.WithLabelValues(ResultUnreachable)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.attempts))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cooldowns.WithLabelValues("a.example")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sinkRecords.WithLabelValues("jsonl", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sinkRecords.WithLabelValues("csv", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inflight))
	assert.Equal(t, 1, testutil.CollectAndCount(c.responseMS))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ObserveProbe(ResultSkipped, 0)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `apihunter_probes_total{result="skipped"} 1`)
}

func TestServeStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Serve(ctx, addr, logging.Discard()))

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "apihunter_inflight"))

	cancel()
	assert.Eventually(t, func() bool {
		_, err := http.Get("http://" + addr + "/metrics")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServeBadAddress(t *testing.T) {
	assert.Error(t, New().Serve(context.Background(), "256.0.0.1:bad", logging.Discard()))
}
