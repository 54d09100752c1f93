package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordRequestSplitsSlicedAndPassthrough(t *testing.T) {
	r := New(nil)
	r.RecordRequest(true)
	r.RecordRequest(false)
	r.RecordRequest(true)

	snap := r.Snapshot()
	assert.EqualValues(t, 3, snap.TotalRequests)
	assert.EqualValues(t, 2, snap.SlicedRequests)
	assert.EqualValues(t, 1, snap.PassthroughRequests)
}

func TestRecordCacheHitAccumulatesBytes(t *testing.T) {
	r := New(nil)
	r.RecordCacheHit(100)
	r.RecordCacheHit(50)
	r.RecordCacheMiss()

	snap := r.Snapshot()
	assert.EqualValues(t, 2, snap.CacheHits)
	assert.EqualValues(t, 1, snap.CacheMisses)
	assert.EqualValues(t, 150, snap.BytesFromCache)
}

func TestRecordSubrequestTracksFailedAndRetried(t *testing.T) {
	r := New(nil)
	r.RecordSubrequest(false, false)
	r.RecordSubrequest(true, true)
	r.RecordSubrequest(true, false)

	snap := r.Snapshot()
	assert.EqualValues(t, 3, snap.TotalSubrequests)
	assert.EqualValues(t, 2, snap.FailedSubrequests)
	assert.EqualValues(t, 1, snap.RetriedSubrequests)
}

func TestSetDiskBlockGaugesOverwritesNotAccumulates(t *testing.T) {
	r := New(nil)
	r.SetDiskBlockGauges(10, 90)
	r.SetDiskBlockGauges(20, 80)

	snap := r.Snapshot()
	assert.EqualValues(t, 20, snap.DiskFreeBlocks)
	assert.EqualValues(t, 80, snap.DiskUsedBlocks)
}

func TestRecordDiskStoreFailureAlsoIncrementsErrors(t *testing.T) {
	r := New(nil)
	r.RecordDiskStore(false)
	r.RecordDiskStore(true)

	snap := r.Snapshot()
	assert.EqualValues(t, 2, snap.DiskStores)
	assert.EqualValues(t, 1, snap.DiskErrors)
}

func TestSetCacheLayerStatsOverwritesNotAccumulates(t *testing.T) {
	r := New(nil)
	r.SetCacheLayerStats(5, 3, 10, 4096)
	r.SetCacheLayerStats(7, 4, 12, 8192)

	snap := r.Snapshot()
	assert.EqualValues(t, 7, snap.CacheL1Hits)
	assert.EqualValues(t, 4, snap.CacheL2Hits)
	assert.EqualValues(t, 12, snap.CacheL1Entries)
	assert.EqualValues(t, 8192, snap.CacheL1Bytes)
}

func TestAddDurationsAccumulateMicroseconds(t *testing.T) {
	r := New(nil)
	r.AddRequestDuration(2 * time.Millisecond)
	r.AddRequestDuration(3 * time.Millisecond)

	snap := r.Snapshot()
	assert.EqualValues(t, 5000, snap.TotalRequestDurationUs)
}
