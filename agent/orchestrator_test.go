package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// scriptedModel replays a fixed sequence of assistant messages. When the
// script runs out it repeats the last entry, which lets tests simulate a
// model that never stops calling tools.
type scriptedModel struct {
	script  []*schema.Message
	err     error
	calls   int
	bound   []*schema.ToolInfo
	bindErr error
	seen    [][]*schema.Message
}

func (m *scriptedModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.calls++
	copied := make([]*schema.Message, len(in))
	copy(copied, in)
	m.seen = append(m.seen, copied)
	if m.err != nil {
		return nil, m.err
	}
	idx := m.calls - 1
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	return m.script[idx], nil
}

func (m *scriptedModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported in tests")
}

func (m *scriptedModel) BindTools(tools []*schema.ToolInfo) error {
	m.bound = tools
	return m.bindErr
}

func assistantText(content string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: content}
}

func assistantToolCall(id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}},
		},
	}
}

func userMessages(text string) []*schema.Message {
	return []*schema.Message{
		{Role: schema.System, Content: "You are a data analyst."},
		{Role: schema.User, Content: text},
	}
}

func TestOrchestratorDirectAnswer(t *testing.T) {
	cm := &scriptedModel{script: []*schema.Message{assistantText("The answer is 42.")}}
	r, _ := newTestRegistry(t)
	o := NewOrchestrator(cm, r, 3, nil)

	result, transcript, err := o.Run(context.Background(), userMessages("what is the answer?"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Answer != "The answer is 42." {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.Steps != 0 {
		t.Errorf("steps = %d, want 0", result.Steps)
	}
	if len(transcript) != 3 {
		t.Errorf("transcript has %d messages, want 3", len(transcript))
	}
	if len(cm.bound) == 0 {
		t.Error("tools were not bound to the model")
	}
}

func TestOrchestratorToolRoundTrip(t *testing.T) {
	cm := &scriptedModel{script: []*schema.Message{
		assistantToolCall("c1", "filter_data", `{"dataset_id":"ds1","expression":"gene_A > 0.4"}`),
		assistantText("Two samples exceed the threshold."),
	}}
	r, _ := newTestRegistry(t)
	o := NewOrchestrator(cm, r, 3, nil)

	result, transcript, err := o.Run(context.Background(), userMessages("which samples have high gene_A?"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Steps != 1 {
		t.Errorf("steps = %d, want 1", result.Steps)
	}
	if len(result.ToolResults) != 1 || !result.ToolResults[0].OK {
		t.Fatalf("tool results = %+v", result.ToolResults)
	}
	if result.ToolResults[0].Table == nil || len(result.ToolResults[0].Table.Rows) != 2 {
		t.Errorf("table attachment = %+v", result.ToolResults[0].Table)
	}

	// The transcript must interleave assistant tool calls with tool replies.
	var sawToolMsg bool
	for _, msg := range transcript {
		if msg.Role == schema.Tool {
			sawToolMsg = true
			if msg.ToolCallID != "c1" {
				t.Errorf("tool message call ID = %q, want c1", msg.ToolCallID)
			}
		}
	}
	if !sawToolMsg {
		t.Error("no tool message in transcript")
	}
}

func TestOrchestratorToolErrorBecomesObservation(t *testing.T) {
	cm := &scriptedModel{script: []*schema.Message{
		assistantToolCall("c1", "filter_data", `{"dataset_id":"missing","expression":"age > 1"}`),
		assistantText("That dataset does not exist."),
	}}
	r, _ := newTestRegistry(t)
	o := NewOrchestrator(cm, r, 3, nil)

	result, _, err := o.Run(context.Background(), userMessages("filter the missing dataset"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Answer != "That dataset does not exist." {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.ToolResults) != 1 || result.ToolResults[0].Kind != KindNotFound {
		t.Errorf("tool results = %+v, want one not_found observation", result.ToolResults)
	}

	// The model's second turn must have seen the error observation.
	lastSeen := cm.seen[len(cm.seen)-1]
	found := false
	for _, msg := range lastSeen {
		if msg.Role == schema.Tool && strings.Contains(msg.Content, string(KindNotFound)) {
			found = true
		}
	}
	if !found {
		t.Error("error observation not fed back to the model")
	}
}

func TestOrchestratorStepLimit(t *testing.T) {
	// The scripted model never stops asking for tools.
	cm := &scriptedModel{script: []*schema.Message{
		assistantToolCall("c1", "describe_data", `{}`),
	}}
	r, _ := newTestRegistry(t)
	o := NewOrchestrator(cm, r, 3, nil)

	result, _, err := o.Run(context.Background(), userMessages("keep going forever"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.StepLimitHit {
		t.Fatal("step limit not reported")
	}
	if result.Steps != 3 {
		t.Errorf("steps = %d, want exactly 3 dispatch rounds", result.Steps)
	}
	// 3 dispatch rounds plus the final refused turn.
	if cm.calls != 4 {
		t.Errorf("model called %d times, want 4", cm.calls)
	}
	if !strings.Contains(result.Answer, string(KindStepLimitExceeded)) {
		t.Errorf("answer = %q, want step limit notice", result.Answer)
	}
	if len(result.ToolResults) != 3 {
		t.Errorf("got %d tool results, want 3", len(result.ToolResults))
	}
}

func TestOrchestratorTransportFailure(t *testing.T) {
	cm := &scriptedModel{err: errors.New("connection refused")}
	r, _ := newTestRegistry(t)
	o := NewOrchestrator(cm, r, 3, nil)

	_, _, err := o.Run(context.Background(), userMessages("hello"))
	if err == nil {
		t.Fatal("Run succeeded despite transport failure")
	}
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Kind != KindTransportFailure {
		t.Errorf("error = %v, want %s", err, KindTransportFailure)
	}
}

func TestOrchestratorBindFailure(t *testing.T) {
	cm := &scriptedModel{bindErr: errors.New("unsupported")}
	r, _ := newTestRegistry(t)
	o := NewOrchestrator(cm, r, 3, nil)

	_, _, err := o.Run(context.Background(), userMessages("hello"))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Kind != KindTransportFailure {
		t.Errorf("error = %v, want %s", err, KindTransportFailure)
	}
}

func TestOrchestratorCancelledContext(t *testing.T) {
	cm := &scriptedModel{script: []*schema.Message{assistantText("unused")}}
	r, _ := newTestRegistry(t)
	o := NewOrchestrator(cm, r, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := o.Run(ctx, userMessages("hello"))
	if err == nil {
		t.Fatal("Run succeeded with cancelled context")
	}
	if cm.calls != 0 {
		t.Errorf("model called %d times after cancellation, want 0", cm.calls)
	}
}
