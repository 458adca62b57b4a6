// Package logging defines the structured logger shared by the pipeline,
// backed by zerolog.
package logging
