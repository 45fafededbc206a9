package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"labpilot/agent"
	"labpilot/config"
	"labpilot/database"
	"labpilot/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

const systemPrompt = `You are a careful data analyst. You answer questions about datasets registered in this workspace.
Use the available tools to inspect, filter, aggregate and plot data, search reference documents, or run short analysis snippets.
Ground every numeric claim in a tool result. When a tool reports an error, adjust your request or explain the problem.
Answer concisely and state which dataset the answer came from.`

// AnalyzeResponse is what one analysis request returns to the caller.
type AnalyzeResponse struct {
	SessionID    string                `json:"session_id"`
	Answer       string                `json:"answer"`
	Steps        int                   `json:"steps"`
	StepLimitHit bool                  `json:"step_limit_hit"`
	Degraded     bool                  `json:"degraded"`
	ErrorKind    string                `json:"error_kind,omitempty"`
	Table        *database.ResultTable `json:"table,omitempty"`
	Plot         *agent.PlotSpec       `json:"plot,omitempty"`
}

// App wires the services together and is the single entry point for the CLI.
type App struct {
	ctx context.Context

	logger        *logger.Logger
	configService *ConfigService
	chatService   *ChatService

	dataService *database.DataService
	knowledge   *agent.KnowledgeBase
	sandbox     *agent.Sandbox
	registry    *agent.ToolRegistry
	sessions    *agent.SessionStore

	chatModel    model.ChatModel
	orchestrator *agent.Orchestrator
	cfg          config.Config
}

// NewApp creates the application shell. Startup finishes the wiring.
func NewApp() *App {
	l := logger.NewLogger()
	return &App{
		logger:        l,
		configService: NewConfigService(l.Log),
		dataService:   database.NewDataService(),
		sessions:      agent.NewSessionStore(),
	}
}

// Startup loads configuration and builds every service that depends on it.
func (a *App) Startup(ctx context.Context) error {
	a.ctx = ctx

	if err := a.configService.Initialize(ctx); err != nil {
		return err
	}
	cfg, err := a.configService.GetConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logDir := filepath.Join(cfg.DataCacheDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err == nil {
		if err := a.logger.Init(logDir); err != nil {
			fmt.Printf("Warning: logging disabled: %v\n", err)
		}
	}
	a.logger.SetDebug(cfg.DetailedLog)

	a.chatService = NewChatService(filepath.Join(cfg.DataCacheDir, "sessions"))

	a.sandbox = agent.NewSandbox(cfg.PythonPath,
		time.Duration(cfg.CodeTimeoutSec)*time.Second, cfg.CodeMemoryMB)
	a.knowledge = agent.NewKnowledgeBase(agent.NewOpenAIEmbedder(cfg, ""))

	a.registry = agent.NewToolRegistry()
	a.registry.SetMaxTableRows(cfg.MaxPreviewRows)
	a.registry.Register(agent.NewFilterDataTool(a.dataService))
	a.registry.Register(agent.NewAggregateDataTool(a.dataService))
	a.registry.Register(agent.NewDescribeDataTool(a.dataService))
	a.registry.Register(agent.NewGeneratePlotTool(a.dataService))
	a.registry.Register(agent.NewSearchDocumentsTool(a.knowledge))
	a.registry.Register(agent.NewRunCodeTool(a.dataService, a.sandbox))

	a.chatModel, err = agent.NewChatModel(ctx, cfg)
	if err != nil {
		return WrapError("app", "Startup", err)
	}
	a.orchestrator = agent.NewOrchestrator(a.chatModel, a.registry, cfg.MaxSteps, a.logger.Log)

	a.logger.Logf("startup complete, tools: %v", a.registry.SortedNames())
	return nil
}

// Shutdown releases resources.
func (a *App) Shutdown() {
	a.dataService.Close()
	a.logger.Close()
}

// RegisterDatasetFile loads a JSON dataset file of the form
// {"name": ..., "columns": [...], "rows": [[...], ...]} and registers it.
func (a *App) RegisterDatasetFile(path string) (*database.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError("app", "RegisterDatasetFile", err)
	}

	var payload struct {
		ID      string          `json:"id"`
		Name    string          `json:"name"`
		Columns []string        `json:"columns"`
		Rows    [][]interface{} `json:"rows"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, WrapError("app", "RegisterDatasetFile", fmt.Errorf("invalid dataset file: %w", err))
	}
	if payload.ID == "" {
		payload.ID = uuid.New().String()[:8]
	}
	if payload.Name == "" {
		payload.Name = filepath.Base(path)
	}

	ds, err := a.dataService.Register(payload.ID, payload.Name, payload.Columns, payload.Rows)
	if err != nil {
		return nil, WrapError("app", "RegisterDatasetFile", err)
	}
	a.logger.Logf("registered dataset %s (%d rows)", ds.ID, ds.RowCount)
	return ds, nil
}

// ListDatasets returns metadata for all registered datasets.
func (a *App) ListDatasets() []database.Dataset {
	return a.dataService.List()
}

// AddDocument stores a reference document in the knowledge base.
func (a *App) AddDocument(ctx context.Context, id, content string) error {
	err := a.knowledge.Add(ctx, agent.Document{ID: id, Content: content})
	return WrapError("app", "AddDocument", err)
}

// NewSession starts a fresh conversation and returns its ID.
func (a *App) NewSession() string {
	s := a.sessions.Create(systemPrompt)
	return s.ID
}

// SetActiveDataset binds a dataset to a session. The model is told about the
// binding on every following turn so the user can stop naming the dataset.
func (a *App) SetActiveDataset(sessionID, datasetID string) error {
	session, ok := a.sessions.Get(sessionID)
	if !ok {
		return WrapError("app", "SetActiveDataset", fmt.Errorf("session %s not found", sessionID))
	}
	if _, err := a.dataService.Describe(datasetID); err != nil {
		return WrapError("app", "SetActiveDataset", err)
	}
	session.SetActiveDataset(datasetID)
	return nil
}

// History returns the persisted transcript of a session. A session that has
// not completed a turn yet has an empty history.
func (a *App) History(sessionID string) ([]ChatMessage, error) {
	thread, err := a.chatService.GetThread(sessionID)
	if err != nil {
		if _, ok := a.sessions.Get(sessionID); ok {
			return []ChatMessage{}, nil
		}
		return nil, WrapError("app", "History", err)
	}
	return thread.Messages, nil
}

// ClearSession resets a session's transcript to the seed system message and
// removes its persisted history.
func (a *App) ClearSession(sessionID string) error {
	session, ok := a.sessions.Get(sessionID)
	if !ok {
		return WrapError("app", "ClearSession", fmt.Errorf("session %s not found", sessionID))
	}
	session.Acquire()
	defer session.Release()
	session.Reset()
	if err := a.chatService.DeleteThread(sessionID); err != nil {
		a.logger.Logf("no persisted history to clear for %s: %v", sessionID, err)
	}
	return nil
}

// Analyze runs one question through the agent inside the given session. An
// empty sessionID starts a new session. Model transport failures come back
// as a degraded response instead of an error.
func (a *App) Analyze(ctx context.Context, sessionID, question string) (*AnalyzeResponse, error) {
	if question == "" {
		return nil, WrapError("app", "Analyze", fmt.Errorf("question must not be empty"))
	}

	var session *agent.Session
	if sessionID == "" {
		session = a.sessions.Create(systemPrompt)
	} else {
		var ok bool
		session, ok = a.sessions.Get(sessionID)
		if !ok {
			return nil, WrapError("app", "Analyze", fmt.Errorf("session %s not found", sessionID))
		}
	}

	session.Acquire()
	defer session.Release()

	messages := session.Messages()
	hintIdx := -1
	if id := session.ActiveDataset(); id != "" {
		hintIdx = len(messages)
		messages = append(messages, &schema.Message{
			Role:    schema.System,
			Content: fmt.Sprintf("The active dataset for this session is %q. Use it when the user does not name a dataset.", id),
		})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: question})

	result, transcript, err := a.orchestrator.Run(ctx, messages)
	resp := &AnalyzeResponse{SessionID: session.ID}

	if err != nil {
		kind := agent.ClassifyError(err)
		a.logger.Logf("analysis failed (%s): %v", kind, err)
		resp.Degraded = true
		resp.ErrorKind = string(kind)
		resp.Answer = fmt.Sprintf("The analysis could not be completed: %v", err)
		// The failed turn is not committed to the session.
		a.persistTurn(session.ID, question, resp)
		return resp, nil
	}

	if hintIdx >= 0 && hintIdx < len(transcript) {
		// The dataset hint is rebuilt each turn, so it is not committed.
		transcript = append(transcript[:hintIdx], transcript[hintIdx+1:]...)
	}
	session.SetTranscript(transcript)

	resp.Answer = result.Answer
	resp.Steps = result.Steps
	resp.StepLimitHit = result.StepLimitHit
	if resp.StepLimitHit {
		resp.ErrorKind = string(agent.KindStepLimitExceeded)
	}
	for _, tr := range result.ToolResults {
		a.logger.Debugf("tool %s ok=%t kind=%s", tr.Name, tr.OK, tr.Kind)
		if tr.Table != nil {
			resp.Table = tr.Table
		}
		if tr.Plot != nil {
			resp.Plot = tr.Plot
		}
	}

	a.persistTurn(session.ID, question, resp)
	return resp, nil
}

func (a *App) persistTurn(sessionID, question string, resp *AnalyzeResponse) {
	if a.chatService == nil {
		return
	}
	now := time.Now().UnixMilli()
	title := question
	if len(title) > 60 {
		title = title[:60]
	}
	err := a.chatService.AppendMessages(sessionID, title,
		ChatMessage{
			ID:        uuid.New().String(),
			Role:      "user",
			Content:   question,
			Timestamp: now,
		},
		ChatMessage{
			ID:           uuid.New().String(),
			Role:         "assistant",
			Content:      resp.Answer,
			Timestamp:    now,
			Table:        resp.Table,
			Plot:         resp.Plot,
			Steps:        resp.Steps,
			StepLimitHit: resp.StepLimitHit,
			ErrorKind:    resp.ErrorKind,
		})
	if err != nil {
		a.logger.Logf("failed to persist turn: %v", err)
	}
}
