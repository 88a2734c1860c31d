package voxcache

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/voxcache/pixel"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordSliceRead is called after each slice task that reached its source.
	RecordSliceRead(duration time.Duration, err error)

	// RecordConversion is called when a slice is converted on the way out.
	RecordConversion(from, to pixel.Type, voxels int)

	// RecordMaterialize is called after each image materialization.
	RecordMaterialize(slices int, duration time.Duration, err error)

	// RecordCacheLookup is called for each read-through path cache lookup.
	RecordCacheLookup(hit bool)

	// RecordAdmissionWait is called with the time a slice task spent waiting
	// for a reader slot.
	RecordAdmissionWait(duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSliceRead(time.Duration, error)         {}
func (NoopMetricsCollector) RecordConversion(pixel.Type, pixel.Type, int) {}
func (NoopMetricsCollector) RecordMaterialize(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordCacheLookup(bool)                       {}
func (NoopMetricsCollector) RecordAdmissionWait(time.Duration)            {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	SliceReads         atomic.Int64
	SliceReadErrors    atomic.Int64
	SliceReadNanos     atomic.Int64
	Conversions        atomic.Int64
	ConvertedVoxels    atomic.Int64
	Materializations   atomic.Int64
	MaterializeErrors  atomic.Int64
	MaterializedSlices atomic.Int64
	CacheHits          atomic.Int64
	CacheMisses        atomic.Int64
	AdmissionWaits     atomic.Int64
	AdmissionWaitNanos atomic.Int64
}

// RecordSliceRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSliceRead(duration time.Duration, err error) {
	b.SliceReads.Add(1)
	b.SliceReadNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SliceReadErrors.Add(1)
	}
}

// RecordConversion implements MetricsCollector.
func (b *BasicMetricsCollector) RecordConversion(_, _ pixel.Type, voxels int) {
	b.Conversions.Add(1)
	b.ConvertedVoxels.Add(int64(voxels))
}

// RecordMaterialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMaterialize(slices int, _ time.Duration, err error) {
	b.Materializations.Add(1)
	if err != nil {
		b.MaterializeErrors.Add(1)
		return
	}
	b.MaterializedSlices.Add(int64(slices))
}

// RecordCacheLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCacheLookup(hit bool) {
	if hit {
		b.CacheHits.Add(1)
	} else {
		b.CacheMisses.Add(1)
	}
}

// RecordAdmissionWait implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdmissionWait(duration time.Duration) {
	b.AdmissionWaits.Add(1)
	b.AdmissionWaitNanos.Add(duration.Nanoseconds())
}

// Stats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) Stats() BasicMetricsStats {
	return BasicMetricsStats{
		SliceReads:         b.SliceReads.Load(),
		SliceReadErrors:    b.SliceReadErrors.Load(),
		SliceReadAvgNanos:  avg(b.SliceReadNanos.Load(), b.SliceReads.Load()),
		Conversions:        b.Conversions.Load(),
		ConvertedVoxels:    b.ConvertedVoxels.Load(),
		Materializations:   b.Materializations.Load(),
		MaterializeErrors:  b.MaterializeErrors.Load(),
		MaterializedSlices: b.MaterializedSlices.Load(),
		CacheHits:          b.CacheHits.Load(),
		CacheMisses:        b.CacheMisses.Load(),
		AdmissionWaitAvg:   time.Duration(avg(b.AdmissionWaitNanos.Load(), b.AdmissionWaits.Load())),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a point-in-time snapshot of BasicMetricsCollector.
type BasicMetricsStats struct {
	SliceReads         int64
	SliceReadErrors    int64
	SliceReadAvgNanos  int64
	Conversions        int64
	ConvertedVoxels    int64
	Materializations   int64
	MaterializeErrors  int64
	MaterializedSlices int64
	CacheHits          int64
	CacheMisses        int64
	AdmissionWaitAvg   time.Duration
}
