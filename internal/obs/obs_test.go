package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerHonorsTrace(t *testing.T) {
	entry := NewLogger(true)
	assert.Equal(t, logrus.DebugLevel, entry.Logger.GetLevel())

	entry = NewLogger(false)
	assert.Equal(t, logrus.InfoLevel, entry.Logger.GetLevel())
}

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveOutcome("approved", "visa-qvsdc", time.Now())

	count, err := testutilCollectAndCount(reg)
	assert.NoError(t, err)
	assert.Greater(t, count, 0)
}

func testutilCollectAndCount(reg *prometheus.Registry) (int, error) {
	families, err := reg.Gather()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range families {
		n += len(f.GetMetric())
	}
	return n, nil
}
