package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction_Tap(t *testing.T) {
	action, err := ParseAction(`{"v":1,"action":"tap","x":500,"y":200,"reason":"open search"}`)
	require.NoError(t, err)

	assert.Equal(t, ActionTap, action.Name)
	assert.Equal(t, 500, action.X)
	assert.Equal(t, 200, action.Y)
	assert.Equal(t, "open search", action.Reason)
	assert.False(t, action.Terminal())
}

func TestParseAction_CodeFenceAndProse(t *testing.T) {
	raw := "Looking at the screen, I should tap the icon.\n```json\n" +
		`{"v":1,"action":"tap","x":120,"y":640,"reason":"app icon"}` +
		"\n```\n"

	action, err := ParseAction(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionTap, action.Name)
	assert.Equal(t, 120, action.X)
}

func TestParseAction_Finish(t *testing.T) {
	action, err := ParseAction(`{"v":1,"action":"finish","message":"alarm set for 7am"}`)
	require.NoError(t, err)

	assert.Equal(t, ActionFinish, action.Name)
	assert.True(t, action.Terminal())
	assert.Equal(t, "alarm set for 7am", action.Message)
}

func TestParseAction_Swipe(t *testing.T) {
	action, err := ParseAction(`{"v":1,"action":"swipe","x":500,"y":800,"to_x":500,"to_y":200,"reason":"scroll down"}`)
	require.NoError(t, err)

	assert.Equal(t, ActionSwipe, action.Name)
	assert.Equal(t, 200, action.ToY)
}

func TestParseAction_Rejects(t *testing.T) {
	cases := map[string]string{
		"no JSON":          "I think we should tap the button",
		"wrong version":    `{"v":2,"action":"tap","x":1,"y":1}`,
		"missing version":  `{"action":"tap","x":1,"y":1}`,
		"unknown action":   `{"v":1,"action":"teleport"}`,
		"tap out of range": `{"v":1,"action":"tap","x":1200,"y":50}`,
		"swipe no target":  `{"v":1,"action":"swipe","x":500,"y":800,"to_x":-1,"to_y":200}`,
		"empty type text":  `{"v":1,"action":"type","text":""}`,
		"empty launch app": `{"v":1,"action":"launch"}`,
		"wait too long":    `{"v":1,"action":"wait","seconds":120}`,
		"unterminated":     `{"v":1,"action":"tap","x":1`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAction(raw)
			assert.Error(t, err)
		})
	}
}

func TestParseAction_BracesInsideStrings(t *testing.T) {
	action, err := ParseAction(`{"v":1,"action":"type","text":"hello {world}","reason":"fill {field}"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello {world}", action.Text)
}

func TestAction_SupportedBy(t *testing.T) {
	back := &Action{Version: 1, Name: ActionBack}
	assert.True(t, back.SupportedBy(DeviceAndroid))
	assert.True(t, back.SupportedBy(DeviceHarmony))
	assert.False(t, back.SupportedBy(DeviceIOS))

	tap := &Action{Version: 1, Name: ActionTap}
	assert.True(t, tap.SupportedBy(DeviceIOS))
}
