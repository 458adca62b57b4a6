// Package format holds the text formatting helpers shared by the CLI and
// the server: durations, ETAs, progress bars and counts.
package format
