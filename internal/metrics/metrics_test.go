package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/files/{id}", "404"))
	RecordHTTPRequest("GET", "/api/files/{id}", 404, 5*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/api/files/{id}", "404"))
	assert.Equal(t, before+1, after)
}

func TestRecordLock(t *testing.T) {
	before := testutil.ToFloat64(LockOperations.WithLabelValues("item", "lock", "conflict"))
	RecordLock("item", "lock", "conflict")
	RecordLock("item", "lock", "conflict")
	assert.Equal(t, before+2, testutil.ToFloat64(LockOperations.WithLabelValues("item", "lock", "conflict")))
}
