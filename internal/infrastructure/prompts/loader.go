package prompts

import (
	_ "embed"
)

//go:embed system.txt
var DefaultSystemPrompt string

//go:embed polisher.txt
var PolisherPromptTemplate string
