package prompts

import (
	"bytes"
	"text/template"

	"device-agent/internal/domain/entity"
)

// historyWindow caps how many past steps the model sees. Older steps add
// tokens without adding signal.
const historyWindow = 5

type HistoryEntry struct {
	Action  string
	Outcome string
}

type StepPromptData struct {
	Task          string
	Step          int
	MaxSteps      int
	ForegroundApp string
	History       []HistoryEntry
}

type PolisherPromptData struct {
	DeviceLabel string
}

var stepTemplate = template.Must(template.New("step").Parse(`Task: {{.Task}}
Step: {{.Step}} of {{.MaxSteps}}
{{- if .ForegroundApp}}
Foreground app: {{.ForegroundApp}}
{{- end}}
{{- if .History}}
Recent actions:
{{- range .History}}
- {{.Action}} ({{.Outcome}})
{{- end}}
{{- end}}

The attached image is the current screen. Decide the next action.`))

// GenerateStepPrompt renders the user turn for one DECIDE call.
func GenerateStepPrompt(data StepPromptData) (string, error) {
	if len(data.History) > historyWindow {
		data.History = data.History[len(data.History)-historyWindow:]
	}

	var buf bytes.Buffer
	if err := stepTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GeneratePolisherPrompt renders the polisher's system prompt for one device type.
func GeneratePolisherPrompt(deviceType entity.DeviceType) (string, error) {
	tmpl, err := template.New("polisher").Parse(PolisherPromptTemplate)
	if err != nil {
		return "", err
	}

	labels := map[entity.DeviceType]string{
		entity.DeviceAndroid: "Android",
		entity.DeviceHarmony: "HarmonyOS",
		entity.DeviceIOS:     "iOS",
	}
	label, ok := labels[deviceType]
	if !ok {
		label = string(deviceType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, PolisherPromptData{DeviceLabel: label}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HistoryFromRecords converts step records into prompt history entries.
func HistoryFromRecords(records []entity.StepRecord) []HistoryEntry {
	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		if r.Action == nil {
			continue
		}
		outcome := "ok"
		if !r.Dispatched {
			outcome = "failed"
		}
		entries = append(entries, HistoryEntry{
			Action:  r.Action.Name.String(),
			Outcome: outcome,
		})
	}
	return entries
}
