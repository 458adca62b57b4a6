package config

import "runtime"

// EstimateMaxActiveJobs returns how many jobs the server should run at once
// on this machine. Each job already spreads its tiles over a share of the
// logical CPUs, so the estimate stays well below the CPU count.
func EstimateMaxActiveJobs() int {
	return maxActiveJobsFor(runtime.NumCPU())
}

func maxActiveJobsFor(cpus int) int {
	switch {
	case cpus <= 2:
		return 1
	case cpus <= 8:
		return 2
	default:
		return cpus / 4
	}
}

// ApplyAdaptiveDefaults fills settings left at zero with values derived from
// the hardware.
func ApplyAdaptiveDefaults(cfg AppConfig) AppConfig {
	if cfg.MaxJobs == 0 {
		cfg.MaxJobs = EstimateMaxActiveJobs()
	}
	return cfg
}
