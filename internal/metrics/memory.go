package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// MemorySnapshot is a point-in-time reading of the Go runtime's memory.
// Tile windows are copied out of the decoded raster, so heap size tracks
// the number of tiles in flight.
type MemorySnapshot struct {
	HeapAlloc   uint64 // bytes in use by live objects
	Sys         uint64 // total bytes obtained from the OS
	HeapObjects uint64
	NumGC       uint32
}

// ReadMemory reads the current runtime memory statistics.
func ReadMemory() MemorySnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemorySnapshot{
		HeapAlloc:   m.HeapAlloc,
		Sys:         m.Sys,
		HeapObjects: m.HeapObjects,
		NumGC:       m.NumGC,
	}
}

// MemoryCollector exports ReadMemory on every scrape.
type MemoryCollector struct {
	heapAlloc *prometheus.Desc
	sys       *prometheus.Desc
	objects   *prometheus.Desc
	gcCycles  *prometheus.Desc
	read      func() MemorySnapshot
}

// NewMemoryCollector creates a collector reading the live runtime.
func NewMemoryCollector() *MemoryCollector {
	return newMemoryCollector(ReadMemory)
}

func newMemoryCollector(read func() MemorySnapshot) *MemoryCollector {
	return &MemoryCollector{
		heapAlloc: prometheus.NewDesc(namespace+"_heap_alloc_bytes", "Heap bytes in use.", nil, nil),
		sys:       prometheus.NewDesc(namespace+"_sys_bytes", "Bytes obtained from the OS.", nil, nil),
		objects:   prometheus.NewDesc(namespace+"_heap_objects", "Allocated heap objects.", nil, nil),
		gcCycles:  prometheus.NewDesc(namespace+"_gc_cycles_total", "Completed GC cycles.", nil, nil),
		read:      read,
	}
}

func (mc *MemoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.heapAlloc
	ch <- mc.sys
	ch <- mc.objects
	ch <- mc.gcCycles
}

func (mc *MemoryCollector) Collect(ch chan<- prometheus.Metric) {
	s := mc.read()
	ch <- prometheus.MustNewConstMetric(mc.heapAlloc, prometheus.GaugeValue, float64(s.HeapAlloc))
	ch <- prometheus.MustNewConstMetric(mc.sys, prometheus.GaugeValue, float64(s.Sys))
	ch <- prometheus.MustNewConstMetric(mc.objects, prometheus.GaugeValue, float64(s.HeapObjects))
	ch <- prometheus.MustNewConstMetric(mc.gcCycles, prometheus.CounterValue, float64(s.NumGC))
}
