package hdc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTargets(t *testing.T) {
	out := "127.0.0.1:5555\nFMR0223C13000649\n\n"
	assert.Equal(t, []string{"127.0.0.1:5555", "FMR0223C13000649"}, parseTargets(out))
}

func TestParseTargets_Empty(t *testing.T) {
	assert.Empty(t, parseTargets("[Empty]\n"))
}

func TestParseTargets_StateSuffix(t *testing.T) {
	out := "FMR0223C13000649\tConnected\n"
	assert.Equal(t, []string{"FMR0223C13000649"}, parseTargets(out))
}

func TestParseScreenSize(t *testing.T) {
	out := "-- RenderService\nphysical resolution: 1260x2720\nrefresh rate: 120\n"
	w, h, ok := parseScreenSize(out)
	assert.True(t, ok)
	assert.Equal(t, 1260, w)
	assert.Equal(t, 2720, h)
}

func TestParseScreenSize_CaseInsensitive(t *testing.T) {
	w, h, ok := parseScreenSize("Physical Resolution: 1080x2340\n")
	assert.True(t, ok)
	assert.Equal(t, 1080, w)
	assert.Equal(t, 2340, h)
}

func TestParseScreenSize_NotFound(t *testing.T) {
	_, _, ok := parseScreenSize("no display info\n")
	assert.False(t, ok)
}

func TestScaleCoord(t *testing.T) {
	x, y := scaleCoord(500, 250, 1260, 2720)
	assert.Equal(t, 630, x)
	assert.Equal(t, 680, y)
}

func TestIsSecureScreenError(t *testing.T) {
	assert.True(t, isSecureScreenError(errors.New("exit status 1: [Fail]Snapshot display error")))
	assert.False(t, isSecureScreenError(errors.New("context deadline exceeded")))
}

func TestFallbackSnapshot(t *testing.T) {
	snap := fallbackSnapshot(0, 0)
	assert.True(t, snap.Sensitive)
	assert.Equal(t, 1260, snap.Width)
	assert.Equal(t, 2720, snap.Height)
	assert.NotEmpty(t, snap.ScreenshotB64)
}
