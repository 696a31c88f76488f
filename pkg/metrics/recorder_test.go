package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder()

	r.MessageSent("info")
	r.MessageSent("info")
	r.MessageSent("task")
	r.TaskTransition("claimed")
	r.StateSync("tasks")
	r.RelayReconnect()
	r.SetAgentsRunning(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.messagesSent.WithLabelValues("info")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.messagesSent.WithLabelValues("task")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.taskTransitions.WithLabelValues("claimed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.stateSyncs.WithLabelValues("tasks")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.relayReconnects))
	assert.Equal(t, float64(3), testutil.ToFloat64(r.agentsRunning))
}

func TestHandlerServesExposition(t *testing.T) {
	r := NewRecorder()
	r.MessageSent("info")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "colony_messages_sent_total")
}

func TestDefaultIsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
