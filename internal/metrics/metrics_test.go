package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ executor.Observer = (*Metrics)(nil)

func TestObserverCounts(t *testing.T) {
	m := New()

	m.RequestStarted(protocol.RequestRun)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsInFlight))
	m.RequestFinished(protocol.RequestRun, 10*time.Millisecond, nil)
	m.RequestStarted(protocol.RequestRun)
	m.RequestFinished(protocol.RequestRun, time.Second, errors.New("boom"))
	m.RequestStarted(protocol.RequestInstall)
	m.RequestFinished(protocol.RequestInstall, time.Millisecond, nil)
	m.PackageInstalled("lodash")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.RequestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("run", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("run", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("install", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PackagesInstalled))
}

func TestHostsGauge(t *testing.T) {
	m := New()
	m.HostConnected()
	m.HostConnected()
	m.HostDisconnected()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostsConnected))
}

func TestHandler(t *testing.T) {
	m := New()
	m.PackageInstalled("x")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gorupad_packages_installed_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
