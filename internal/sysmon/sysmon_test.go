package sysmon

import (
	"runtime"
	"testing"
)

func TestSample(t *testing.T) {
	s := Sample()
	for name, pct := range map[string]float64{"cpu": s.CPUPercent, "mem": s.MemPercent} {
		if pct < 0 || pct > 100 {
			t.Errorf("%s percent %f outside [0, 100]", name, pct)
		}
	}
	if s.Load1 < 0 {
		t.Errorf("Load1 = %f", s.Load1)
	}
	if runtime.GOOS == "linux" {
		if s.MemPercent == 0 {
			t.Error("a running host reports some memory in use")
		}
		if s.CPUs < 1 {
			t.Errorf("CPUs = %d", s.CPUs)
		}
	}
}
