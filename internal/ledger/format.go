package ledger

import "fmt"

// FormatRemaining renders a second count as zero-padded MM:SS.
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// FormatRemainingDetailed renders a second count as zero-padded HH:MM:SS.
func FormatRemainingDetailed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
