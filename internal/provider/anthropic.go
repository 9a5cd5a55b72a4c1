package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/cost"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/internal/resilience"
	"github.com/sells-group/boq-resolver/pkg/anthropic"
)

const classifySystemPrompt = `You sort bill-of-quantities rows from construction budgets into work categories.
Rows may be written in Czech, Slovak, German or English. Assign every row exactly one category from the list you are given.
Respond with a valid JSON object only: {"assignments": [{"index": <row index>, "category": "<category>"}]}`

const classifyUserPrompt = `Categories: %s
Project context: %s

Rows:
%s`

const selectSystemPrompt = `You match a bill-of-quantities row to a reference catalog of construction work items.
You are given the row and a numbered list of candidate catalog entries. You must choose exactly one candidate by its code; never invent a code.
Respond with a valid JSON object only: {"selected_code": "<code>", "confidence": <0.0-1.0>, "rationale": "<one sentence>", "related": [{"code": "<code>", "reason": "<short reason>"}]}
"related" lists catalog codes for work that usually accompanies the selected item; leave it empty if unsure.`

const selectUserPrompt = `Row: %s
Project context: %s

Candidates:
%s`

// Anthropic implements Provider over the Anthropic Messages API.
type Anthropic struct {
	cfg    Config
	client anthropic.Client
	calc   *cost.Calculator
}

// Ensure Anthropic implements Provider.
var _ Provider = (*Anthropic)(nil)

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config, client anthropic.Client, calc *cost.Calculator) *Anthropic {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Anthropic{cfg: cfg, client: client, calc: calc}
}

// Name implements Provider.
func (a *Anthropic) Name() string { return NameAnthropic }

// Classify implements Provider.
func (a *Anthropic) Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error) {
	var rows strings.Builder
	for _, r := range req.Rows {
		fmt.Fprintf(&rows, "%d\t%s\n", r.Index, r.Text)
	}
	prompt := fmt.Sprintf(classifyUserPrompt,
		strings.Join(req.Categories, ", "), describeContext(req.Context), rows.String())

	// Classification output grows with the chunk size.
	maxTokens := max(a.cfg.MaxTokens, int64(len(req.Rows))*24+64)
	text, costUSD, err := a.call(ctx, a.cfg.ClassifyModel, classifySystemPrompt, prompt, maxTokens, "classify")
	if err != nil {
		return nil, err
	}

	var out ClassifyResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &out); err != nil {
		return nil, eris.Wrap(err, "provider: parse classify response")
	}
	out.CostUSD = costUSD
	return &out, nil
}

// Select implements Provider.
func (a *Anthropic) Select(ctx context.Context, req SelectRequest) (*SelectResponse, error) {
	var list strings.Builder
	for i, c := range req.Candidates {
		fmt.Fprintf(&list, "%d. %s | %s | %s | %s | score %.2f\n",
			i+1, c.Entry.Code, c.Entry.Name, c.Entry.Unit, c.Entry.Category, c.Score)
	}
	prompt := fmt.Sprintf(selectUserPrompt, req.Text, describeContext(req.Context), list.String())

	text, costUSD, err := a.call(ctx, a.cfg.SelectModel, selectSystemPrompt, prompt, a.cfg.MaxTokens, "select")
	if err != nil {
		return nil, err
	}

	var out SelectResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &out); err != nil {
		return nil, eris.Wrap(err, "provider: parse select response")
	}
	out.SelectedCode = strings.TrimSpace(out.SelectedCode)
	out.Confidence = model.ClampConfidence(out.Confidence)
	out.CostUSD = costUSD
	return &out, nil
}

func (a *Anthropic) call(ctx context.Context, modelID, system, prompt string, maxTokens int64, phase string) (string, float64, error) {
	temp := a.cfg.Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       modelID,
		MaxTokens:   maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(system, a.cfg.CacheTTL),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", 0, classifyAPIError(err, phase)
	}

	costUSD := a.calc.Record(modelID, cost.Usage{
		Input:      resp.Usage.InputTokens,
		Output:     resp.Usage.OutputTokens,
		CacheWrite: resp.Usage.CacheCreationInputTokens,
		CacheRead:  resp.Usage.CacheReadInputTokens,
	})
	resp.Usage.LogCost(modelID, phase, costUSD)
	return resp.Text(), costUSD, nil
}

// classifyAPIError marks retryable HTTP failures as transient.
func classifyAPIError(err error, phase string) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(eris.Wrapf(err, "provider: %s", phase), apiErr.StatusCode)
	}
	return eris.Wrapf(err, "provider: %s", phase)
}

func describeContext(c model.ContextDescriptor) string {
	fields := c.Fields()
	if len(fields) == 0 {
		return "none"
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "none"
	}
	return string(b)
}

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
