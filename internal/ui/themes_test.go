package ui

import (
	"os"
	"testing"
)

// Tests mutating the global theme must not run in parallel.

func TestThemeByName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		want  string
		known bool
	}{
		{"dark", "dark", true},
		{" Light ", "light", true},
		{"terrain", "terrain", true},
		{"none", "none", true},
		{"", "dark", false},
		{"neon", "dark", false},
	}
	for _, tt := range tests {
		got, known := ThemeByName(tt.name)
		if got.Name != tt.want || known != tt.known {
			t.Errorf("ThemeByName(%q) = %s, %v; want %s, %v", tt.name, got.Name, known, tt.want, tt.known)
		}
	}
}

func TestInitTheme(t *testing.T) {
	prev := GetCurrentTheme()
	t.Cleanup(func() { SetCurrentTheme(prev) })

	t.Run("flag disables colors", func(t *testing.T) {
		t.Setenv(ThemeEnv, "terrain")
		InitTheme(true)
		if got := GetCurrentTheme().Name; got != "none" {
			t.Errorf("theme = %s, want none", got)
		}
	})
	t.Run("NO_COLOR disables colors", func(t *testing.T) {
		t.Setenv("NO_COLOR", "")
		InitTheme(false)
		if got := GetCurrentTheme().Name; got != "none" {
			t.Errorf("theme = %s, want none", got)
		}
	})
	t.Run("theme from environment", func(t *testing.T) {
		if _, set := os.LookupEnv("NO_COLOR"); set {
			t.Skip("NO_COLOR is set in the environment")
		}
		t.Setenv(ThemeEnv, "terrain")
		InitTheme(false)
		if got := GetCurrentTheme().Name; got != "terrain" {
			t.Errorf("theme = %s, want terrain", got)
		}
	})
}

func TestColors(t *testing.T) {
	prev := GetCurrentTheme()
	t.Cleanup(func() { SetCurrentTheme(prev) })

	SetTheme("light")
	if ColorRed() != LightTheme.Error || ColorGreen() != LightTheme.Success || ColorBold() != "\033[1m" {
		t.Error("color helpers do not follow the light theme")
	}
	if got := Paint(ColorYellow(), "x"); got != LightTheme.Warning+"x"+LightTheme.Reset {
		t.Errorf("Paint = %q", got)
	}

	SetTheme("none")
	for _, c := range []string{ColorReset(), ColorRed(), ColorBlue(), ColorMagenta(), ColorCyan(), ColorUnderline()} {
		if c != "" {
			t.Errorf("no-color theme returned %q", c)
		}
	}
	if got := Paint(ColorRed(), "plain"); got != "plain" {
		t.Errorf("Paint without color = %q", got)
	}
}
