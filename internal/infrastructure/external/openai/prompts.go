package openai

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/rcm-agent/internal/application/port"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// StagePrompt is the prompt and model parameters of one oracle stage
type StagePrompt struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// PromptConfig holds the prompts used by the OpenAI oracle
type PromptConfig struct {
	DataCollection  StagePrompt `yaml:"data_collection"`
	DataExtraction  StagePrompt `yaml:"data_extraction"`
	DataStructuring StagePrompt `yaml:"data_structuring"`
	MedicalCoding   StagePrompt `yaml:"medical_coding"`
}

// LoadPrompts loads prompt configuration from a YAML file. An empty path
// returns the built-in prompts.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	if promptsPath == "" {
		return DefaultPrompts()
	}

	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return parsePrompts(data)
}

// DefaultPrompts returns the prompts compiled into the binary
func DefaultPrompts() (*PromptConfig, error) {
	return parsePrompts(defaultPrompts)
}

func parsePrompts(data []byte) (*PromptConfig, error) {
	var prompts PromptConfig
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}

	for _, stage := range []port.Stage{port.StageCollection, port.StageExtraction, port.StageStructuring, port.StageCoding} {
		p, _ := prompts.ForStage(stage)
		if p.System == "" || p.UserTemplate == "" {
			return nil, fmt.Errorf("prompts: stage %s is missing system or user_template", stage)
		}
	}
	return &prompts, nil
}

// ForStage returns the prompt of a stage
func (c *PromptConfig) ForStage(stage port.Stage) (*StagePrompt, error) {
	switch stage {
	case port.StageCollection:
		return &c.DataCollection, nil
	case port.StageExtraction:
		return &c.DataExtraction, nil
	case port.StageStructuring:
		return &c.DataStructuring, nil
	case port.StageCoding:
		return &c.MedicalCoding, nil
	}
	return &StagePrompt{}, fmt.Errorf("unknown oracle stage %q", stage)
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
