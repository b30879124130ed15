package entity

import "time"

// StateSnapshot is what one OBSERVE pass captured from the device. The
// screenshot is base64 so it can go straight into a vision prompt.
type StateSnapshot struct {
	ScreenshotB64 string
	Format        string
	Width         int
	Height        int
	ForegroundApp string
	Sensitive     bool
	TakenAt       time.Time
}
