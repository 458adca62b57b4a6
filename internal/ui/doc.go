// Package ui provides theme and color support for terminal output.
// It defines color schemes and the ANSI escape code helpers shared by the
// CLI presenter and the error handler.
package ui
