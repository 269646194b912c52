// Package intent is a best-effort free-text router backed by Gemini. It is
// an enrichment only: any failure yields nil and the caller falls back to
// explicit command parsing.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/nescohelper/meter-bot/internal/model"
)

const (
	IntentStart          = "START"
	IntentHelp           = "HELP"
	IntentListMeters     = "LIST_METERS"
	IntentCheckBalances  = "CHECK_BALANCES"
	IntentToggleReminder = "TOGGLE_REMINDER"
	IntentSmallTalk      = "SMALL_TALK"
	IntentUnknown        = "UNKNOWN"
)

const systemPrompt = "You route user messages for the NESCO Meter Helper bot.\n" +
	"Always return pure JSON with these fields: \n" +
	"intent: one of [START, HELP, LIST_METERS, CHECK_BALANCES, TOGGLE_REMINDER, SMALL_TALK, UNKNOWN].\n" +
	"meter_name: optional string; meter_number: optional string; response: optional reply text.\n" +
	"If user asks to check balance or similar, intent=CHECK_BALANCES.\n" +
	"If they want to list meters, intent=LIST_METERS.\n" +
	"If greeting or casual chat, intent=SMALL_TALK and add friendly response text.\n" +
	"If unsure, intent=UNKNOWN.\n"

type Intent struct {
	Name        string `json:"intent"`
	MeterName   string `json:"meter_name,omitempty"`
	MeterNumber string `json:"meter_number,omitempty"`
	Response    string `json:"response,omitempty"`
}

type Classifier struct {
	client      *genai.Client
	model       string
	temperature float32
	log         *logrus.Logger
}

func NewClassifier(ctx context.Context, apiKey, modelName string, log *logrus.Logger) (*Classifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("intent classifier API key is required")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Classifier{
		client:      client,
		model:       modelName,
		temperature: 0.2,
		log:         log,
	}, nil
}

// Interpret maps free text to a structured intent. It returns nil on any
// model or parse failure; callers must treat nil as "no opinion".
func (c *Classifier) Interpret(ctx context.Context, text string, meters []model.Meter) *Intent {
	prompt := c.buildPrompt(text, meters)

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(c.temperature),
			MaxOutputTokens: 512,
		},
	)
	if err != nil {
		c.log.WithError(err).Warn("intent request failed")
		return nil
	}

	parsed := parseJSONBlock(resp.Text())
	if parsed == nil {
		c.log.WithField("payload", resp.Text()).Warn("intent returned unparsable payload")
		return nil
	}
	return parsed
}

func (c *Classifier) buildPrompt(text string, meters []model.Meter) string {
	var contextBlock string
	if len(meters) > 0 {
		limit := len(meters)
		if limit > 5 {
			limit = 5
		}
		names := make([]string, 0, limit)
		for _, m := range meters[:limit] {
			names = append(names, fmt.Sprintf("%s (%s)", m.Name, m.Number))
		}
		contextBlock = fmt.Sprintf("Known meters: %s.\n", strings.Join(names, ", "))
	}
	return fmt.Sprintf("%s%sUser: %s\nJSON:", systemPrompt, contextBlock, text)
}

// parseJSONBlock pulls the outermost {...} out of the generated text;
// models tend to wrap the JSON in prose or code fences.
func parseJSONBlock(text string) *Intent {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil
	}

	var it Intent
	if err := json.Unmarshal([]byte(text[start:end+1]), &it); err != nil {
		return nil
	}
	if it.Name == "" {
		it.Name = IntentUnknown
	}
	return &it
}
