package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"
)

// JobProgress draws a progress bar for a background job from polled counters.
type JobProgress struct {
	bar    *progressbar.ProgressBar
	writer io.Writer
	last   int
}

// NewJobProgress creates a bar for total items.
func NewJobProgress(w io.Writer, total int, description string) *JobProgress {
	p := &JobProgress{writer: w}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return p
}

// Update moves the bar to processed. Counters only grow, so smaller values
// are ignored.
func (p *JobProgress) Update(processed int) {
	if processed <= p.last {
		return
	}
	if err := p.bar.Add(processed - p.last); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
	p.last = processed
}

// Done fills the bar.
func (p *JobProgress) Done() {
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}
