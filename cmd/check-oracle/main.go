package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/rcm-agent/internal/application/port"
	domainwf "github.com/garyjia/rcm-agent/internal/domain/workflow"
	"github.com/garyjia/rcm-agent/internal/infrastructure/external/openai"
)

func main() {
	// Parse command line flags
	apiKey := flag.String("key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	baseURL := flag.String("base-url", "", "OpenAI-compatible API base URL")
	model := flag.String("model", openai.DefaultModel, "Chat model")
	promptsPath := flag.String("prompts", "", "Path to prompts.yaml (empty for built-in prompts)")
	stage := flag.String("stage", string(port.StageExtraction), "Oracle stage to exercise")
	timeout := flag.Duration("timeout", 30*time.Second, "API call timeout")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	// Initialize logger
	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Get API key from flag or environment
	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "ERROR: OPENAI_API_KEY not set and no --key flag provided\n")
		fmt.Fprintf(os.Stderr, "Usage: check-oracle --key sk-... [--stage data_extraction] [--timeout 30s]\n")
		os.Exit(1)
	}

	fmt.Println("=== Oracle Connection Check ===")
	fmt.Println("Configuration:")
	fmt.Printf("  Model: %s\n", *model)
	fmt.Printf("  Stage: %s\n", *stage)
	fmt.Printf("  API key length: %d chars\n", len(*apiKey))
	fmt.Printf("  Timeout: %v\n", *timeout)
	fmt.Println()

	prompts, err := openai.LoadPrompts(*promptsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading prompts: %v\n", err)
		os.Exit(1)
	}

	oracle := openai.NewOracle(openai.Config{
		APIKey:  *apiKey,
		BaseURL: *baseURL,
		Model:   *model,
	}, prompts, logger)

	req, err := sampleRequest(port.Stage(*stage))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	startTime := time.Now()
	decision, err := oracle.Decide(ctx, req)
	duration := time.Since(startTime)

	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: oracle call failed: %v\n\n", err)
		fmt.Fprintf(os.Stderr, "Possible causes:\n")
		fmt.Fprintf(os.Stderr, "  1. Invalid or expired OPENAI_API_KEY\n")
		fmt.Fprintf(os.Stderr, "  2. Network connectivity issue\n")
		fmt.Fprintf(os.Stderr, "  3. Model not available for this key\n")
		os.Exit(1)
	}

	fmt.Printf("Response time: %v\n\n", duration)
	fmt.Println("=== Decision ===")
	fmt.Printf("Action: %s\n", decision.Action)
	fmt.Printf("Message: %s\n", decision.Message)
	if decision.Confidence != nil {
		fmt.Printf("Confidence: %.2f\n", *decision.Confidence)
	}

	fmt.Println("\n=== Payload (JSON) ===")
	jsonBytes, _ := json.MarshalIndent(decision.Payload, "", "  ")
	fmt.Println(string(jsonBytes))

	fmt.Println("\nOracle check passed")
}

// sampleRequest builds a representative request for a stage
func sampleRequest(stage port.Stage) (port.OracleRequest, error) {
	now := time.Now()
	notes := "Patient presents with fever and productive cough for 3 days. " +
		"Chest auscultation shows crackles in the right lower lobe. " +
		"Assessment: community-acquired pneumonia. Plan: chest X-ray, amoxicillin 500mg TID for 7 days."

	patient := &domainwf.PatientData{
		Name:              "Sara Ali",
		DateOfBirth:       "1985-04-12",
		Gender:            "female",
		InsuranceProvider: "Thiqa",
		PolicyNumber:      "TQ-448812",
	}
	encounter := &domainwf.EncounterData{
		EncounterType:    "outpatient",
		ServiceDate:      now.Format("2006-01-02"),
		ChiefComplaint:   "fever and productive cough",
		RawClinicalNotes: notes,
	}

	req := port.OracleRequest{
		SessionID: "check-oracle",
		Stage:     stage,
		Conversation: []domainwf.Message{
			{Role: domainwf.RoleHuman, Content: "I need to file a claim for Sara Ali, born 1985-04-12, insured with Thiqa policy TQ-448812.", Timestamp: now},
			{Role: domainwf.RoleHuman, Content: "Outpatient visit today. " + notes, Timestamp: now},
		},
		ClinicalNotes: notes,
	}

	switch stage {
	case port.StageCollection:
		req.MissingFields = domainwf.MissingFields(nil, nil)
	case port.StageExtraction:
	case port.StageStructuring:
		req.Patient = patient
		req.Encounter = encounter
	case port.StageCoding:
		req.Patient = patient
		req.Encounter = encounter
		req.Structured = &domainwf.StructuredClinicalData{
			Diagnoses:   []string{"community-acquired pneumonia"},
			Procedures:  []string{"chest X-ray"},
			Medications: []string{"amoxicillin 500mg TID"},
		}
	default:
		return req, fmt.Errorf("unknown stage %q", stage)
	}
	return req, nil
}
