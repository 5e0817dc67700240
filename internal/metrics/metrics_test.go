package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSave(t *testing.T) {
	okBefore := testutil.ToFloat64(SnapshotSaves.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(SnapshotSaves.WithLabelValues("error"))

	RecordSave(nil)
	RecordSave(errors.New("disk full"))
	RecordSave(nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(SnapshotSaves.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(SnapshotSaves.WithLabelValues("error")))
}

func TestSetState(t *testing.T) {
	SetState(5, 40, 2)

	assert.Equal(t, 5.0, testutil.ToFloat64(QueueDepth))
	assert.Equal(t, 40.0, testutil.ToFloat64(PostedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(PostsToday))
}

func TestRecordDiscovery(t *testing.T) {
	before := testutil.ToFloat64(DiscoveredItems.WithLabelValues("added"))
	RecordDiscovery(3, 1, 0, 2, 3, 1)
	assert.Equal(t, before+3, testutil.ToFloat64(DiscoveredItems.WithLabelValues("added")))
}
