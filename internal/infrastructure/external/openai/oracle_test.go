package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/rcm-agent/internal/application/port"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
)

// fakeOpenAI serves a fixed chat completion and records the last request
type fakeOpenAI struct {
	content string
	status  int
	last    map[string]interface{}
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = json.NewDecoder(r.Body).Decode(&f.last)
	w.Header().Set("Content-Type", "application/json")

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
		return
	}

	resp := map[string]interface{}{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]interface{}{
					"role":    "assistant",
					"content": f.content,
				},
			},
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestOracle(t *testing.T, fake *fakeOpenAI) *Oracle {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	prompts, err := DefaultPrompts()
	require.NoError(t, err)

	return NewOracle(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"}, prompts, zap.NewNop())
}

func TestOracle_Collection(t *testing.T) {
	fake := &fakeOpenAI{content: `{
		"action": "proceed",
		"message": "All set",
		"confidence": 0.92,
		"patient": {"name": "Ahmed Al Mansouri", "insurance_provider": "Daman"},
		"encounter": {"encounter_type": "outpatient", "service_date": "2024-03-01"}
	}`}
	oracle := newTestOracle(t, fake)

	d, err := oracle.Decide(context.Background(), port.OracleRequest{
		SessionID: "s-1",
		Stage:     port.StageCollection,
		Conversation: []domainwf.Message{
			{Role: domainwf.RoleHuman, Content: "Patient Ahmed Al Mansouri, Daman"},
		},
		MissingFields: domainwf.MissingFields(nil, nil),
	})
	require.NoError(t, err)

	assert.Equal(t, port.ActionProceed, d.Action)
	assert.Equal(t, "All set", d.Message)
	require.NotNil(t, d.Confidence)
	assert.InDelta(t, 0.92, *d.Confidence, 1e-9)
	require.NotNil(t, d.Payload.Extraction)
	assert.Equal(t, "Ahmed Al Mansouri", d.Payload.Extraction.Patient.Name)
	assert.Equal(t, "2024-03-01", d.Payload.Extraction.Encounter.ServiceDate)
	assert.Nil(t, d.Payload.Structured)
	assert.Nil(t, d.Payload.Codes)

	// Request shape
	assert.Equal(t, "gpt-4o-mini", fake.last["model"])
	format, ok := fake.last["response_format"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])

	messages, ok := fake.last["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	user := messages[1].(map[string]interface{})["content"].(string)
	assert.Contains(t, user, "human: Patient Ahmed Al Mansouri, Daman")
	assert.Contains(t, user, "patient name, date of birth")
}

func TestOracle_Structuring(t *testing.T) {
	fake := &fakeOpenAI{content: `{
		"action": "proceed",
		"structured_data": {
			"diagnoses": ["Essential hypertension"],
			"procedures": ["ECG"],
			"confidence_score": 0.85
		}
	}`}
	oracle := newTestOracle(t, fake)

	d, err := oracle.Decide(context.Background(), port.OracleRequest{
		SessionID:     "s-1",
		Stage:         port.StageStructuring,
		ClinicalNotes: "BP 150/95. ECG normal.",
	})
	require.NoError(t, err)

	assert.Equal(t, port.ActionProceed, d.Action)
	assert.Nil(t, d.Confidence)
	require.NotNil(t, d.Payload.Structured)
	assert.Equal(t, []string{"Essential hypertension"}, d.Payload.Structured.Diagnoses)
	require.NotNil(t, d.Payload.Structured.ConfidenceScore)
	assert.InDelta(t, 0.85, *d.Payload.Structured.ConfidenceScore, 1e-9)
	assert.Nil(t, d.Payload.Extraction)

	messages := fake.last["messages"].([]interface{})
	user := messages[1].(map[string]interface{})["content"].(string)
	assert.Contains(t, user, "BP 150/95. ECG normal.")
}

func TestOracle_Coding(t *testing.T) {
	fake := &fakeOpenAI{content: `{
		"action": "proceed",
		"confidence": 0.88,
		"icd10_codes": [{"code": "I10", "description": "Essential hypertension", "confidence": 0.9, "rationale": "BP elevated"}],
		"cpt_codes": [{"code": "93000", "description": "ECG", "confidence": 0.85, "rationale": "ECG performed"}],
		"requires_human_review": false
	}`}
	oracle := newTestOracle(t, fake)

	d, err := oracle.Decide(context.Background(), port.OracleRequest{
		Stage:      port.StageCoding,
		Patient:    &domainwf.PatientData{InsuranceProvider: "THIQA Insurance"},
		Structured: &domainwf.StructuredClinicalData{Diagnoses: []string{"Essential hypertension"}},
	})
	require.NoError(t, err)

	require.NotNil(t, d.Payload.Codes)
	assert.Equal(t, 2, d.Payload.Codes.Count())
	assert.Equal(t, "I10", d.Payload.Codes.ICD10Codes[0].Code)
	assert.Equal(t, "93000", d.Payload.Codes.CPTCodes[0].Code)
	assert.False(t, d.Payload.Codes.RequiresHumanReview)

	messages := fake.last["messages"].([]interface{})
	user := messages[1].(map[string]interface{})["content"].(string)
	assert.Contains(t, user, "Payer: THIQA")
	assert.Contains(t, user, "Essential hypertension")
}

func TestOracle_FencedJSONFallback(t *testing.T) {
	fake := &fakeOpenAI{content: "Here you go:\n```json\n{\"action\": \"ASK_USER\", \"message\": \"What is the MRN?\"}\n```"}
	oracle := newTestOracle(t, fake)

	d, err := oracle.Decide(context.Background(), port.OracleRequest{Stage: port.StageCollection})
	require.NoError(t, err)
	assert.Equal(t, port.ActionAskUser, d.Action)
	assert.Equal(t, "What is the MRN?", d.Message)
}

func TestOracle_DefaultAction(t *testing.T) {
	tests := []struct {
		stage port.Stage
		want  port.Action
	}{
		{port.StageCollection, port.ActionAskUser},
		{port.StageExtraction, port.ActionProceed},
		{port.StageStructuring, port.ActionProceed},
		{port.StageCoding, port.ActionProceed},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			oracle := newTestOracle(t, &fakeOpenAI{content: `{"message": "ok"}`})
			d, err := oracle.Decide(context.Background(), port.OracleRequest{Stage: tt.stage})
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Action)
		})
	}
}

func TestOracle_Errors(t *testing.T) {
	t.Run("unparseable content", func(t *testing.T) {
		oracle := newTestOracle(t, &fakeOpenAI{content: "I cannot help with that"})
		_, err := oracle.Decide(context.Background(), port.OracleRequest{Stage: port.StageCoding})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse response")
	})

	t.Run("api error", func(t *testing.T) {
		oracle := newTestOracle(t, &fakeOpenAI{status: http.StatusInternalServerError})
		_, err := oracle.Decide(context.Background(), port.OracleRequest{Stage: port.StageCoding})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OpenAI API call failed")
	})

	t.Run("unknown stage", func(t *testing.T) {
		oracle := newTestOracle(t, &fakeOpenAI{content: `{}`})
		_, err := oracle.Decide(context.Background(), port.OracleRequest{Stage: "billing"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown oracle stage")
	})

	t.Run("cancelled context", func(t *testing.T) {
		oracle := newTestOracle(t, &fakeOpenAI{content: `{}`})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := oracle.Decide(ctx, port.OracleRequest{Stage: port.StageCoding})
		require.Error(t, err)
	})
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"prose around", `result: {"a":{"b":2}} done`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`},
		{"escaped quote", `{"a":"x\"}"}`, `{"a":"x\"}"}`},
		{"no object", `nothing here`, ""},
		{"unterminated", `{"a":1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.content))
		})
	}
}
