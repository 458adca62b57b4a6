package ui

import (
	"os"
	"strings"
	"sync"
)

// Theme defines a color scheme for UI output.
// Each field contains an ANSI escape code for the corresponding color category.
type Theme struct {
	// Name is the identifier of the theme.
	Name string
	// Primary is the main accent color for headings and grid ids.
	Primary string
	// Secondary is used for less prominent elements.
	Secondary string
	// Success marks tiles inside the ranking band and completed jobs.
	Success string
	// Warning marks invalid tiles and non-critical issues.
	Warning string
	// Error indicates failures.
	Error string
	// Info is used for informational values such as dimensions.
	Info string
	// Bold is the escape code for bold text.
	Bold string
	// Underline is the escape code for underlined text.
	Underline string
	// Reset clears all formatting.
	Reset string
}

var (
	// DarkTheme is optimized for dark terminal backgrounds.
	DarkTheme = Theme{
		Name:      "dark",
		Primary:   "\033[38;5;39m",  // Bright blue
		Secondary: "\033[38;5;245m", // Grey
		Success:   "\033[38;5;82m",  // Bright green
		Warning:   "\033[38;5;220m", // Yellow
		Error:     "\033[38;5;196m", // Red
		Info:      "\033[38;5;141m", // Purple
		Bold:      "\033[1m",
		Underline: "\033[4m",
		Reset:     "\033[0m",
	}

	// LightTheme uses darker colors for light terminal backgrounds.
	LightTheme = Theme{
		Name:      "light",
		Primary:   "\033[38;5;27m",  // Dark blue
		Secondary: "\033[38;5;240m", // Dark grey
		Success:   "\033[38;5;28m",  // Dark green
		Warning:   "\033[38;5;130m", // Orange
		Error:     "\033[38;5;124m", // Dark red
		Info:      "\033[38;5;54m",  // Dark purple
		Bold:      "\033[1m",
		Underline: "\033[4m",
		Reset:     "\033[0m",
	}

	// TerrainTheme is an earth-toned dark theme, the palette of a hillshade.
	TerrainTheme = Theme{
		Name:      "terrain",
		Primary:   "\033[38;5;172m", // Ochre
		Secondary: "\033[38;5;101m", // Olive grey
		Success:   "\033[38;5;71m",  // Moss
		Warning:   "\033[38;5;179m", // Sand
		Error:     "\033[38;5;160m", // Laterite
		Info:      "\033[38;5;67m",  // Slate blue
		Bold:      "\033[1m",
		Underline: "\033[4m",
		Reset:     "\033[0m",
	}

	// NoColorTheme disables all color output.
	// Used when NO_COLOR is set or --no-color flag is provided.
	NoColorTheme = Theme{Name: "none"}

	currentTheme = DarkTheme
	themeMutex   sync.RWMutex
)

// ThemeEnv selects a theme by name when colors are enabled.
const ThemeEnv = "XENARCH_THEME"

// ThemeByName returns the named theme and whether the name is known.
// Unknown names map to DarkTheme.
func ThemeByName(name string) (Theme, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dark":
		return DarkTheme, true
	case "light":
		return LightTheme, true
	case "terrain":
		return TerrainTheme, true
	case "none":
		return NoColorTheme, true
	}
	return DarkTheme, false
}

// GetCurrentTheme returns the currently active theme in a thread-safe manner.
func GetCurrentTheme() Theme {
	themeMutex.RLock()
	defer themeMutex.RUnlock()
	return currentTheme
}

// SetCurrentTheme sets the currently active theme in a thread-safe manner.
// This is primarily used for testing purposes to restore state.
func SetCurrentTheme(t Theme) {
	themeMutex.Lock()
	defer themeMutex.Unlock()
	currentTheme = t
}

// SetTheme changes the active theme by name.
// Valid names are: "dark", "light", "terrain", "none".
// Unknown names default to dark theme.
func SetTheme(name string) {
	t, _ := ThemeByName(name)
	SetCurrentTheme(t)
}

// InitTheme initializes the theme from the noColor flag and the environment.
// It respects the NO_COLOR environment variable (https://no-color.org/).
// Otherwise XENARCH_THEME picks the palette.
func InitTheme(noColor bool) {
	if noColor {
		SetCurrentTheme(NoColorTheme)
		return
	}
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		SetCurrentTheme(NoColorTheme)
		return
	}
	SetTheme(os.Getenv(ThemeEnv))
}
