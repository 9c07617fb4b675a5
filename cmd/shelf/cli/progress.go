package cli

import (
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/viper"
	"golang.org/x/term"

	shelf "github.com/kgrid/kgrid-shelf-sub000"
)

// progressMode returns the configured progress mode: "auto", "tty", or "plain".
func progressMode() string {
	mode := viper.GetString("progress")
	switch mode {
	case "auto", "tty", "plain":
		return mode
	default:
		return "auto"
	}
}

// shouldShowProgress returns true if progress bars should be displayed.
func shouldShowProgress() bool {
	switch progressMode() {
	case "plain":
		return false
	case "tty":
		return true
	default:
		return term.IsTerminal(int(os.Stderr.Fd()))
	}
}

// newProgressBar creates a new progress bar for byte-based operations. A
// negative total renders a spinner.
func newProgressBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionUseANSICodes(true),
	)
}

// newProgress creates a progress callback labelled with description.
// Returns the callback and a finish function to call when done.
// Returns nil callback if progress should not be shown.
func newProgress(description string) (callback shelf.ProgressCallback, finish func()) {
	if !shouldShowProgress() {
		return nil, func() {}
	}

	var bar *progressbar.ProgressBar
	var once sync.Once

	callback = func(event shelf.ProgressEvent) {
		once.Do(func() {
			bar = newProgressBar(event.TotalBytes, description)
		})
		//nolint:errcheck // progress bar errors are not critical
		bar.Set64(event.BytesTransferred)
	}

	finish = func() {
		if bar != nil {
			//nolint:errcheck // progress bar errors are not critical
			bar.Finish()
		}
	}

	return callback, finish
}
