package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nescohelper/meter-bot/internal/model"
)

func TestParseJSONBlock(t *testing.T) {
	it := parseJSONBlock(`{"intent": "CHECK_BALANCES"}`)
	require.NotNil(t, it)
	assert.Equal(t, IntentCheckBalances, it.Name)
}

func TestParseJSONBlockCodeFence(t *testing.T) {
	payload := "```json\n{\"intent\": \"SMALL_TALK\", \"response\": \"Hi there!\"}\n```"
	it := parseJSONBlock(payload)
	require.NotNil(t, it)
	assert.Equal(t, IntentSmallTalk, it.Name)
	assert.Equal(t, "Hi there!", it.Response)
}

func TestParseJSONBlockWithProse(t *testing.T) {
	payload := `Sure! Here is the routing decision: {"intent": "LIST_METERS", "meter_name": "Home"} Hope that helps.`
	it := parseJSONBlock(payload)
	require.NotNil(t, it)
	assert.Equal(t, IntentListMeters, it.Name)
	assert.Equal(t, "Home", it.MeterName)
}

func TestParseJSONBlockMissingIntentDefaultsUnknown(t *testing.T) {
	it := parseJSONBlock(`{"response": "hello"}`)
	require.NotNil(t, it)
	assert.Equal(t, IntentUnknown, it.Name)
}

func TestParseJSONBlockGarbage(t *testing.T) {
	for _, payload := range []string{
		"",
		"no json here",
		"{broken",
		"}{",
		`{"intent": 42}`,
	} {
		assert.Nil(t, parseJSONBlock(payload), "payload %q", payload)
	}
}

func TestBuildPromptIncludesMeterContext(t *testing.T) {
	c := &Classifier{model: "gemini-1.5-flash"}

	prompt := c.buildPrompt("how much is left?", []model.Meter{
		{Name: "Home", Number: "31041051783"},
		{Name: "Shop", Number: "31041051784"},
	})
	assert.Contains(t, prompt, "Known meters: Home (31041051783), Shop (31041051784).")
	assert.Contains(t, prompt, "User: how much is left?")
}

func TestBuildPromptCapsMeterContext(t *testing.T) {
	c := &Classifier{}

	meters := make([]model.Meter, 8)
	for i := range meters {
		meters[i] = model.Meter{Name: "M", Number: "1"}
	}
	prompt := c.buildPrompt("hi", meters)
	assert.Equal(t, 5, strings.Count(prompt, "M (1)"))
}

func TestBuildPromptNoMeters(t *testing.T) {
	c := &Classifier{}

	prompt := c.buildPrompt("hello", nil)
	assert.NotContains(t, prompt, "Known meters")
}
