package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the live display.
type ColorScheme struct {
	Title    *color.Color
	Border   *color.Color
	Progress *color.Color
	Stage    *color.Color
	Value    *color.Color
	Latency  *color.Color
	Muted    *color.Color
	Success  *color.Color
	Warning  *color.Color
	Error    *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Title:    color.New(color.Bold),
		Border:   color.New(color.FgCyan),
		Progress: color.New(color.FgGreen),
		Stage:    color.New(color.FgMagenta),
		Value:    color.New(color.FgCyan),
		Latency:  color.New(color.FgBlue),
		Muted:    color.New(color.Faint),
		Success:  color.New(color.FgGreen, color.Bold),
		Warning:  color.New(color.FgYellow, color.Bold),
		Error:    color.New(color.FgRed, color.Bold),
	}
	s.each(func(c *color.Color) { c.EnableColor() })
	return s
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	s.each(func(c *color.Color) { c.DisableColor() })
	return s
}

func (s *ColorScheme) each(fn func(*color.Color)) {
	for _, c := range []*color.Color{
		s.Title, s.Border, s.Progress, s.Stage, s.Value,
		s.Latency, s.Muted, s.Success, s.Warning, s.Error,
	} {
		fn(c)
	}
}

// ErrorRate picks the color for an error rate: green below 1%, yellow
// below 5%, red above.
func (s *ColorScheme) ErrorRate(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return s.Error
	case rate > 0.01:
		return s.Warning
	default:
		return s.Success
	}
}
