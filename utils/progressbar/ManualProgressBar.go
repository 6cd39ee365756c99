// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ManualProgressBar implement progress bar functionality that must
// be manually managed. That is, the Display() function must be called
// whenever an updated progress bar should be printed.
//
// ManualProgressBar does not use concurrency.
type ManualProgressBar struct {
	out             io.Writer
	width           float64
	maxProgress     float64
	currentProgress float64
	bar             strings.Builder
	startTime       time.Time
	status          string
}

// NewManualProgressBar returns a new ManualProgressBar that is width
// characters wide, reaches 100% after max increments and prints to out
func NewManualProgressBar(out io.Writer, width, max int) *ManualProgressBar {
	return &ManualProgressBar{
		out:         out,
		width:       float64(width),
		maxProgress: float64(max),
		startTime:   time.Now(),
	}
}

// Increment increments the interal progress counter. Each time an
// iteration is performed, Increment should be called.
func (p *ManualProgressBar) Increment() {
	if p.currentProgress < p.maxProgress {
		p.currentProgress++
	}
}

// Progress returns the fraction of the bar that is complete
func (p *ManualProgressBar) Progress() float64 {
	return p.currentProgress / p.maxProgress
}

// SetStatus sets a short message shown after the bar, such as the
// return of the last episode
func (p *ManualProgressBar) SetStatus(format string, args ...interface{}) {
	p.status = fmt.Sprintf(format, args...)
}

// String returns the progress bar as it would be displayed
func (p *ManualProgressBar) String() string {
	p.bar.Reset()
	p.bar.WriteString("|")

	currentProg := p.Progress() * p.width
	for i := 0.0; i < currentProg; i++ {
		p.bar.WriteString("█")
	}
	for i := currentProg; i < p.width; i++ {
		p.bar.WriteString(" ")
	}
	p.bar.WriteString(fmt.Sprintf("| [%.2f%v | elapsed: %v]",
		p.Progress()*100, "%", time.Since(p.startTime).Truncate(time.Second)))
	if p.status != "" {
		p.bar.WriteString(" " + p.status)
	}
	return p.bar.String()
}

// Display redraws the progress bar on the current line
func (p *ManualProgressBar) Display() {
	fmt.Fprintf(p.out, "\n\033[1A\033[K%v", p.String())
}

// Close moves the output past the progress bar
func (p *ManualProgressBar) Close() {
	fmt.Fprintln(p.out)
}
