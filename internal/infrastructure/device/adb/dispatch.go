package adb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"device-agent/internal/domain/entity"
)

// settleDelay gives the UI time to react before the next observation.
const settleDelay = 500 * time.Millisecond

func (a *Adapter) Dispatch(ctx context.Context, handle entity.DeviceHandle, action *entity.Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle == nil || a.handle.ID != handle.ID {
		return fmt.Errorf("not connected to %s", handle.ID)
	}

	x, y := scaleCoord(action.X, action.Y, a.screenW, a.screenH)
	toX, toY := scaleCoord(action.ToX, action.ToY, a.screenW, a.screenH)

	var err error
	switch action.Name {
	case entity.ActionTap:
		_, err = a.run(ctx, "shell", "input", "tap", itoa(x), itoa(y))
	case entity.ActionDoubleTap:
		if _, err = a.run(ctx, "shell", "input", "tap", itoa(x), itoa(y)); err == nil {
			time.Sleep(100 * time.Millisecond)
			_, err = a.run(ctx, "shell", "input", "tap", itoa(x), itoa(y))
		}
	case entity.ActionLongPress:
		// A zero-distance swipe with a duration is a long press.
		_, err = a.run(ctx, "shell", "input", "swipe", itoa(x), itoa(y), itoa(x), itoa(y), "800")
	case entity.ActionSwipe:
		dur := swipeDuration(x, y, toX, toY)
		_, err = a.run(ctx, "shell", "input", "swipe", itoa(x), itoa(y), itoa(toX), itoa(toY), itoa(dur))
	case entity.ActionType:
		_, err = a.run(ctx, "shell", "input", "text", escapeText(action.Text))
	case entity.ActionBack:
		_, err = a.run(ctx, "shell", "input", "keyevent", "KEYCODE_BACK")
	case entity.ActionHome:
		_, err = a.run(ctx, "shell", "input", "keyevent", "KEYCODE_HOME")
	case entity.ActionLaunch:
		_, err = a.run(ctx, "shell", "monkey", "-p", action.App, "-c", "android.intent.category.LAUNCHER", "1")
	case entity.ActionWait:
		return sleepCtx(ctx, time.Duration(action.Seconds*float64(time.Second)))
	default:
		return fmt.Errorf("action %s not dispatchable", action.Name)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", action.Name, err)
	}

	time.Sleep(settleDelay)
	return nil
}

// scaleCoord maps the model's 0-1000 relative space onto device pixels.
func scaleCoord(x, y, screenW, screenH int) (int, int) {
	if screenW <= 0 || screenH <= 0 {
		return x, y
	}
	return x * screenW / 1000, y * screenH / 1000
}

// swipeDuration derives a duration in ms from the travel distance, clamped to
// 300-1500 so short swipes are not instant and long ones not sluggish.
func swipeDuration(x1, y1, x2, y2 int) int {
	dx, dy := x2-x1, y2-y1
	dur := (dx*dx + dy*dy) / 1000
	if dur < 300 {
		return 300
	}
	if dur > 1500 {
		return 1500
	}
	return dur
}

// escapeText prepares a string for `input text`, which treats space and shell
// metacharacters specially.
func escapeText(s string) string {
	replacer := strings.NewReplacer(
		" ", "%s",
		"&", `\&`,
		"<", `\<`,
		">", `\>`,
		"|", `\|`,
		";", `\;`,
		"(", `\(`,
		")", `\)`,
		"'", `\'`,
		`"`, `\"`,
	)
	return replacer.Replace(s)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
