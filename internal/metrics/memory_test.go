package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReadMemory(t *testing.T) {
	t.Parallel()
	s := ReadMemory()
	if s.HeapAlloc == 0 || s.Sys == 0 || s.HeapObjects == 0 {
		t.Errorf("ReadMemory() = %+v, want non-zero heap figures", s)
	}
	if s.HeapAlloc > s.Sys {
		t.Errorf("heap in use %d exceeds memory obtained from the OS %d", s.HeapAlloc, s.Sys)
	}
}

func TestMemoryCollector_Exposition(t *testing.T) {
	t.Parallel()
	mc := newMemoryCollector(func() MemorySnapshot {
		return MemorySnapshot{HeapAlloc: 4 << 20, Sys: 16 << 20, HeapObjects: 1200, NumGC: 7}
	})
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(mc)

	want := `
# HELP xenarch_gc_cycles_total Completed GC cycles.
# TYPE xenarch_gc_cycles_total counter
xenarch_gc_cycles_total 7
# HELP xenarch_heap_alloc_bytes Heap bytes in use.
# TYPE xenarch_heap_alloc_bytes gauge
xenarch_heap_alloc_bytes 4.194304e+06
# HELP xenarch_heap_objects Allocated heap objects.
# TYPE xenarch_heap_objects gauge
xenarch_heap_objects 1200
# HELP xenarch_sys_bytes Bytes obtained from the OS.
# TYPE xenarch_sys_bytes gauge
xenarch_sys_bytes 1.6777216e+07
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want)); err != nil {
		t.Error(err)
	}
}
