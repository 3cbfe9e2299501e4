package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/garyjia/rcm-agent/internal/application/port"
	"github.com/garyjia/rcm-agent/internal/application/workflow"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// DefaultModel is used when no model is configured
const DefaultModel = openai.GPT4oMini

// Config holds the OpenAI connection settings
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Oracle implements port.DecisionOracle using OpenAI chat completions
type Oracle struct {
	client  *openai.Client
	model   string
	prompts *PromptConfig
	logger  *zap.Logger
}

// NewOracle creates a new OpenAI oracle
func NewOracle(cfg Config, prompts *PromptConfig, logger *zap.Logger) *Oracle {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Oracle{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		prompts: prompts,
		logger:  logger,
	}
}

// oracleResponse is the JSON object every stage prompt asks for
type oracleResponse struct {
	Action     string   `json:"action"`
	Message    string   `json:"message"`
	Confidence *float64 `json:"confidence"`

	Patient   *domainwf.PatientData   `json:"patient"`
	Encounter *domainwf.EncounterData `json:"encounter"`

	StructuredData *domainwf.StructuredClinicalData `json:"structured_data"`

	ICD10Codes          []domainwf.MedicalCode `json:"icd10_codes"`
	CPTCodes            []domainwf.MedicalCode `json:"cpt_codes"`
	RequiresHumanReview bool                   `json:"requires_human_review"`
}

// promptData is the data the user templates render
type promptData struct {
	Conversation  string
	MissingFields string
	Patient       string
	Encounter     string
	Structured    string
	ClinicalNotes string
	Payer         string
	EncounterType string
}

// Decide implements port.DecisionOracle
func (o *Oracle) Decide(ctx context.Context, req port.OracleRequest) (*port.Decision, error) {
	prompt, err := o.prompts.ForStage(req.Stage)
	if err != nil {
		return nil, err
	}

	user, err := renderTemplate(prompt.UserTemplate, buildPromptData(req))
	if err != nil {
		return nil, fmt.Errorf("render %s prompt: %w", req.Stage, err)
	}

	o.logger.Debug("Calling oracle",
		zap.String("session_id", req.SessionID),
		zap.String("stage", string(req.Stage)),
		zap.String("prompt", user))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: user,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		o.logger.Error("OpenAI API call failed", zap.Error(err), zap.String("stage", string(req.Stage)))
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	content := resp.Choices[0].Message.Content
	o.logger.Debug("Oracle response",
		zap.String("session_id", req.SessionID),
		zap.String("stage", string(req.Stage)),
		zap.String("content", content))

	var result oracleResponse
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		// Fallback: models sometimes wrap the object in prose or code fences
		jsonStr := extractJSON(content)
		if jsonStr == "" || json.Unmarshal([]byte(jsonStr), &result) != nil {
			o.logger.Error("Failed to parse OpenAI response",
				zap.Error(err),
				zap.String("content", content))
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		o.logger.Info("Extracted JSON from response", zap.String("stage", string(req.Stage)))
	}

	decision := toDecision(req.Stage, &result)

	o.logger.Info("Oracle decision",
		zap.String("session_id", req.SessionID),
		zap.String("stage", string(req.Stage)),
		zap.String("action", string(decision.Action)))

	return decision, nil
}

// toDecision maps the model's JSON onto the payload of the request stage
func toDecision(stage port.Stage, r *oracleResponse) *port.Decision {
	d := &port.Decision{
		Action:     port.Action(strings.ToLower(strings.TrimSpace(r.Action))),
		Message:    strings.TrimSpace(r.Message),
		Confidence: r.Confidence,
	}

	switch stage {
	case port.StageCollection, port.StageExtraction:
		if r.Patient != nil || r.Encounter != nil {
			d.Payload.Extraction = &port.Extraction{Patient: r.Patient, Encounter: r.Encounter}
		}
	case port.StageStructuring:
		d.Payload.Structured = r.StructuredData
	case port.StageCoding:
		if len(r.ICD10Codes) > 0 || len(r.CPTCodes) > 0 || r.RequiresHumanReview {
			d.Payload.Codes = &domainwf.SuggestedCodes{
				ICD10Codes:          r.ICD10Codes,
				CPTCodes:            r.CPTCodes,
				OverallConfidence:   r.Confidence,
				RequiresHumanReview: r.RequiresHumanReview,
			}
		}
	}

	if d.Action == "" {
		d.Action = defaultAction(stage)
	}
	return d
}

// defaultAction fills in an action the model left out
func defaultAction(stage port.Stage) port.Action {
	if stage == port.StageCollection {
		return port.ActionAskUser
	}
	return port.ActionProceed
}

func buildPromptData(req port.OracleRequest) promptData {
	data := promptData{
		Conversation:  formatConversation(req.Conversation),
		MissingFields: formatMissing(req.MissingFields),
		Patient:       toJSON(req.Patient),
		Encounter:     toJSON(req.Encounter),
		Structured:    toJSON(req.Structured),
		ClinicalNotes: req.ClinicalNotes,
		Payer:         workflow.PayerUnknown,
	}
	if req.Patient != nil {
		data.Payer = workflow.MapPayer(req.Patient.InsuranceProvider)
	}
	if req.Encounter != nil {
		data.EncounterType = req.Encounter.EncounterType
	}
	return data
}

func formatConversation(messages []domainwf.Message) string {
	if len(messages) == 0 {
		return "(no messages yet)"
	}
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMissing(fields []domainwf.ChecklistField) string {
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		labels = append(labels, f.Label)
	}
	return strings.Join(labels, ", ")
}

func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "{}"
	}
	return string(b)
}

// extractJSON extracts a JSON object embedded in surrounding text
func extractJSON(content string) string {
	start := findJSONStart(content)
	if start < 0 {
		return ""
	}
	end := findJSONEnd(content, start)
	if end <= start {
		return ""
	}
	return content[start:end]
}

// findJSONStart finds the start of JSON content in a string
func findJSONStart(content string) int {
	return strings.IndexByte(content, '{')
}

// findJSONEnd finds the end of JSON content starting at a given position
func findJSONEnd(content string, start int) int {
	if start < 0 || start >= len(content) || content[start] != '{' {
		return -1
	}

	braceCount := 0
	inString := false
	escapeNext := false

	for i := start; i < len(content); i++ {
		char := content[i]

		if escapeNext {
			escapeNext = false
			continue
		}

		if char == '\\' {
			escapeNext = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return i + 1
			}
		}
	}

	return -1
}

// Verify interface compliance
var _ port.DecisionOracle = (*Oracle)(nil)
