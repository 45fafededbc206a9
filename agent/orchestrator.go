package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// The orchestrator drives an explicit two-phase loop: a model turn produces
// either a final answer or tool calls; a dispatch phase runs the calls and
// feeds observations back. Dispatch rounds are budgeted, so a model that
// keeps calling tools is cut off deterministically instead of spinning.

// AnalysisResult is the outcome of one orchestrated request.
type AnalysisResult struct {
	Answer       string       `json:"answer"`
	Steps        int          `json:"steps"` // dispatch rounds consumed
	StepLimitHit bool         `json:"step_limit_hit"`
	ToolResults  []ToolResult `json:"tool_results,omitempty"`
}

// Orchestrator runs the model/tool loop for a single request at a time.
type Orchestrator struct {
	model    model.ChatModel
	registry *ToolRegistry
	maxSteps int
	logger   func(string)
	bound    bool
}

// NewOrchestrator creates an orchestrator with the given dispatch budget.
func NewOrchestrator(cm model.ChatModel, registry *ToolRegistry, maxSteps int, logger func(string)) *Orchestrator {
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &Orchestrator{
		model:    cm,
		registry: registry,
		maxSteps: maxSteps,
		logger:   logger,
	}
}

// Run executes the loop over the given transcript. It returns the result and
// the extended transcript (assistant and tool messages appended). A non-nil
// error is always a *ToolError; tool-level failures never surface here, they
// go back to the model as observations.
func (o *Orchestrator) Run(ctx context.Context, messages []*schema.Message) (*AnalysisResult, []*schema.Message, error) {
	if !o.bound {
		if err := o.model.BindTools(o.registry.Infos()); err != nil {
			return nil, messages, NewToolError(KindTransportFailure, fmt.Errorf("failed to bind tools: %w", err))
		}
		o.bound = true
	}

	result := &AnalysisResult{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, messages, NewToolError(KindInternal, err)
		}

		o.log(fmt.Sprintf("model turn (step %d/%d)", result.Steps, o.maxSteps))
		resp, err := o.model.Generate(ctx, messages)
		if err != nil {
			return nil, messages, NewToolError(KindTransportFailure, fmt.Errorf("model call failed: %w", err))
		}
		messages = append(messages, resp)

		if len(resp.ToolCalls) == 0 {
			result.Answer = resp.Content
			o.log(fmt.Sprintf("final answer after %d dispatch rounds", result.Steps))
			return result, messages, nil
		}

		if result.Steps >= o.maxSteps {
			// Budget exhausted with the model still asking for tools. Refuse
			// the dispatch and finish with what we have.
			result.StepLimitHit = true
			result.Answer = o.stepLimitAnswer(resp)
			o.log(fmt.Sprintf("step limit of %d reached, stopping", o.maxSteps))
			return result, messages, nil
		}

		result.Steps++
		for _, call := range resp.ToolCalls {
			o.log(fmt.Sprintf("dispatching %s (call %s)", call.Function.Name, call.ID))
			toolResult := o.registry.Dispatch(ctx, call)
			result.ToolResults = append(result.ToolResults, toolResult)
			messages = append(messages, toolObservation(toolResult))
		}
	}
}

// stepLimitAnswer builds the degraded final answer when the budget runs out.
func (o *Orchestrator) stepLimitAnswer(last *schema.Message) string {
	answer := fmt.Sprintf("Analysis stopped after reaching the limit of %d tool rounds (%s).", o.maxSteps, KindStepLimitExceeded)
	if last.Content != "" {
		answer = last.Content + "\n\n" + answer
	}
	return answer
}

// toolObservation converts a dispatch result into the tool message the model
// reads next turn.
func toolObservation(res ToolResult) *schema.Message {
	content := res.Observation
	if res.OK && (res.Table != nil || res.Plot != nil) {
		// Attachments ride along for the model in compact JSON.
		if data, err := json.Marshal(res); err == nil {
			content = truncateObservation(string(data))
		}
	}
	return &schema.Message{
		Role:       schema.Tool,
		ToolCallID: res.CallID,
		Content:    content,
	}
}

func (o *Orchestrator) log(msg string) {
	if o.logger != nil {
		o.logger("[orchestrator] " + msg)
	}
}
