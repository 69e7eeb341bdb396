// Package output draws the live progress display of a running test and
// prints the final summary.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/taskload/internal/loadtest/engine"
	"github.com/wesleyorama2/taskload/internal/loadtest/report"
)

// Cursor control sequences.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	Iterations    int64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	State        string
	CurrentPhase string
	// CurrentStage is 1-indexed; zero before the first stage.
	CurrentStage int
	TotalStages  int
}

// Config contains configuration for Console.
type Config struct {
	TestName      string
	BaseURL       string
	TotalDuration time.Duration
	MaxVUs        int
	Writer        io.Writer
	Quiet         bool
	NoColor       bool
	ForceColors   bool
	ForceTTY      bool
}

// Console manages console output during test execution.
type Console struct {
	cfg       Config
	writer    io.Writer
	isTTY     bool
	useColors bool
	colors    *ColorScheme

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console writing to cfg.Writer (default stdout).
func NewConsole(cfg Config) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || IsTerminal(cfg.Writer)
	useColors := !cfg.NoColor && (cfg.ForceColors || (isTTY && SupportsColors()))

	colors := NoColorScheme()
	if useColors {
		colors = DefaultColorScheme()
	}

	return &Console{
		cfg:       cfg,
		writer:    cfg.Writer,
		isTTY:     isTTY,
		useColors: useColors,
		colors:    colors,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// UseColors returns whether colored output is enabled.
func (c *Console) UseColors() bool {
	return c.useColors
}

// PrintHeader prints the test header.
func (c *Console) PrintHeader() {
	if c.cfg.Quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	c.writeln(c.colors.Border.Sprint(line))
	c.writeln(c.colors.Title.Sprintf("%s - Running", c.cfg.TestName))
	c.writeln(c.colors.Muted.Sprintf("%s  max %d VUs  %s", c.cfg.BaseURL, c.cfg.MaxVUs, report.FormatDuration(c.cfg.TotalDuration)))
	c.writeln(c.colors.Border.Sprint(line))
	c.writeln("")
}

// Update redraws the live display. It does nothing unless the output is a
// terminal.
func (c *Console) Update(stats *LiveStats) {
	if c.cfg.Quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLocked()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) clearLocked() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	timeInfo := fmt.Sprintf("%s / %s", report.FormatDuration(stats.Elapsed), report.FormatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Progress.Sprint(renderProgressBar(stats.Progress, 40)),
		c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.Muted.Sprint(timeInfo)))

	stage := stats.State
	if stats.CurrentStage > 0 && stats.TotalStages > 0 {
		stage = fmt.Sprintf("%s, stage %d/%d (%s)", stats.State, stats.CurrentStage, stats.TotalStages, stats.CurrentPhase)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.Stage.Sprint(stage)))
	lines = append(lines, "")

	const boxWidth = 55
	lines = append(lines, c.colors.Muted.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("VUs:     %s / %d", c.colors.Value.Sprint(stats.ActiveVUs), stats.TargetVUs),
		fmt.Sprintf("Requests:    %s", c.colors.Value.Sprint(report.FormatNumber(stats.TotalRequests))),
		boxWidth))

	errColor := c.colors.ErrorRate(stats.ErrorRate)
	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("RPS:     %s", c.colors.Progress.Sprintf("%.1f", stats.CurrentRPS)),
		fmt.Sprintf("Errors:      %s (%s)", errColor.Sprint(stats.Errors), errColor.Sprintf("%.1f%%", stats.ErrorRate*100)),
		boxWidth))

	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("P95:     %s", c.colors.Latency.Sprint(report.FormatLatency(stats.LatencyP95))),
		fmt.Sprintf("Avg:         %s", c.colors.Latency.Sprint(report.FormatLatency(stats.LatencyAvg))),
		boxWidth))

	lines = append(lines, c.colors.Muted.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

// formatBoxRow formats a two-column row inside the stats box.
func (c *Console) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2
	pad := func(s string) string {
		n := colWidth - visibleLen(s)
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}
	border := c.colors.Muted.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s %s %s", border, pad(left), border, pad(right), border)
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintNonInteractiveUpdate prints a one-line status, used when the output
// is not a terminal.
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.cfg.Quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s %d/%d | Progress: %.0f%% | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		report.FormatDuration(stats.Elapsed),
		stats.State,
		stats.CurrentStage,
		stats.TotalStages,
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TargetVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		report.FormatLatency(stats.LatencyP95)))
}

// PrintSummary clears the live display and prints the end-of-test summary.
func (c *Console) PrintSummary(s *engine.RunSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLocked()
	}
	if c.cfg.Quiet {
		if s.Passed {
			c.writeln(c.colors.Success.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Error.Sprint("FAILED"))
		}
		return
	}
	c.write(report.Text(s, c.useColors))
}

// Monitor refreshes the display every interval until ctx is done. Off a
// terminal a status line is printed every logEvery instead.
func (c *Console) Monitor(ctx context.Context, eng *engine.Engine, interval, logEvery time.Duration) {
	if c.cfg.Quiet {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logEvery <= 0 {
		logEvery = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastLog time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stats := StatsFromEngine(eng)
			if stats == nil {
				continue
			}
			if c.isTTY {
				c.Update(stats)
			} else if now.Sub(lastLog) >= logEvery {
				lastLog = now
				c.PrintNonInteractiveUpdate(stats)
			}
		}
	}
}

// StatsFromEngine reads the live statistics of a running engine. It returns
// nil before the run has started.
func StatsFromEngine(eng *engine.Engine) *LiveStats {
	m := eng.Metrics()
	if m == nil {
		return nil
	}
	snap := m.GetSnapshot()
	state, idx := eng.State()
	progress := eng.GetProgress()
	plan := eng.Plan()

	remaining := plan.TotalDuration() - snap.Elapsed
	if remaining < 0 {
		remaining = 0
	}

	lat := snap.Latency()
	return &LiveStats{
		Progress:      progress,
		Elapsed:       snap.Elapsed,
		Remaining:     remaining,
		ActiveVUs:     snap.ActiveVUs,
		TargetVUs:     snap.TargetVUs,
		CurrentRPS:    snap.RPS,
		TotalRequests: snap.TotalRequests,
		Errors:        snap.FailedRequests,
		ErrorRate:     snap.ErrorRate,
		Iterations:    snap.Iterations,
		LatencyP95:    lat.P95,
		LatencyAvg:    lat.Avg,
		State:         state.String(),
		CurrentPhase:  string(snap.CurrentPhase),
		CurrentStage:  idx + 1,
		TotalStages:   plan.Len(),
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// visibleLen is the printed width of s, ignoring ANSI escape sequences.
func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
			continue
		}
		n++
	}
	return n
}
