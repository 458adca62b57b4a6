// Package orchestration runs analysis jobs. Each job moves through the
// phases Pending, Splitting, ComputingMetrics, Analyzing and Complete, or
// ends in Failed. The Orchestrator owns the job registry and exposes
// progress through immutable snapshots that clients poll.
package orchestration
