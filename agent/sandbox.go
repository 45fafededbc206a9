package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"labpilot/database"
)

// sandboxBootstrap is the worker program handed to the interpreter with -c.
// It receives a base64 JSON payload on stdin, caps its own address space,
// rebuilds the dataframe, and executes the snippet against a stripped
// builtins table. Exactly one JSON line comes back on the real stdout.
const sandboxBootstrap = `
import sys, base64, json, io, math, resource, builtins

payload = json.loads(base64.b64decode(sys.stdin.buffer.read()))
limit = int(payload.get("memory_mb", 512)) * 1024 * 1024
resource.setrlimit(resource.RLIMIT_AS, (limit, limit))

def emit(obj):
    sys.__stdout__.write(json.dumps(obj) + "\n")
    sys.__stdout__.flush()
    sys.exit(0)

try:
    import pandas as pd
    import numpy as np
except MemoryError:
    emit({"ok": False, "error": "resource_exceeded", "message": "memory limit exceeded"})
except Exception as e:
    emit({"ok": False, "error": "runtime_fault", "message": "environment setup failed: %s" % e})

df = pd.DataFrame(payload["rows"], columns=payload["columns"])

ALLOWED = ("abs", "all", "any", "bool", "dict", "divmod", "enumerate", "filter",
           "float", "format", "frozenset", "int", "isinstance", "iter", "len",
           "list", "map", "max", "min", "next", "pow", "print", "range",
           "repr", "reversed", "round", "set", "slice", "sorted", "str",
           "sum", "tuple", "type", "zip", "True", "False", "None",
           "Exception", "ArithmeticError", "ValueError", "TypeError",
           "KeyError", "IndexError", "ZeroDivisionError", "StopIteration")
safe = {}
for name in ALLOWED:
    if hasattr(builtins, name):
        safe[name] = getattr(builtins, name)

def clean(v, depth=0):
    if depth > 6:
        return str(v)
    if v is None or isinstance(v, (bool, str)):
        return v
    if isinstance(v, float):
        return None if (math.isnan(v) or math.isinf(v)) else v
    if isinstance(v, int):
        return v
    if isinstance(v, np.generic):
        return clean(v.item(), depth + 1)
    if isinstance(v, (pd.Series,)):
        return {str(k): clean(x, depth + 1) for k, x in v.items()}
    if isinstance(v, pd.DataFrame):
        return {"columns": [str(c) for c in v.columns],
                "rows": [[clean(x, depth + 1) for x in row] for row in v.itertuples(index=False)]}
    if isinstance(v, dict):
        return {str(k): clean(x, depth + 1) for k, x in v.items()}
    if isinstance(v, (list, tuple, np.ndarray)):
        return [clean(x, depth + 1) for x in v]
    return str(v)

attachments = {}

def emit_table(frame):
    if isinstance(frame, pd.Series):
        frame = frame.to_frame()
    if not isinstance(frame, pd.DataFrame):
        raise TypeError("emit_table expects a DataFrame or Series")
    attachments["table"] = clean(frame.head(int(payload.get("max_rows", 200))))

def plot_spec(type, x, y, title="", x_label="", y_label=""):
    attachments["plot"] = {"type": str(type), "title": str(title),
                           "x_label": str(x_label), "y_label": str(y_label),
                           "x": clean(list(x)), "y": [float(v) for v in y]}

env = {"__builtins__": safe, "df": df, "pd": pd, "np": np, "math": math,
       "emit_table": emit_table, "plot_spec": plot_spec}
buf = io.StringIO()
sys.stdout = buf
try:
    exec(compile(payload["code"], "<snippet>", "exec"), env)
except MemoryError:
    sys.stdout = sys.__stdout__
    emit({"ok": False, "error": "resource_exceeded", "message": "memory limit exceeded"})
except BaseException as e:
    sys.stdout = sys.__stdout__
    emit({"ok": False, "error": "runtime_fault", "message": "%s: %s" % (type(e).__name__, e)})
sys.stdout = sys.__stdout__

emit({"ok": True, "result": clean(env.get("result")), "stdout": buf.getvalue()[:10000],
      "table": attachments.get("table"), "plot": attachments.get("plot")})
`

// SandboxResult is a successful snippet run. Table and Plot are set only when
// the snippet called the emit_table or plot_spec helper.
type SandboxResult struct {
	Result interface{}           `json:"result"`
	Stdout string                `json:"stdout"`
	Table  *database.ResultTable `json:"table,omitempty"`
	Plot   *PlotSpec             `json:"plot,omitempty"`
}

// ProcessRunner abstracts the interpreter process so tests can substitute a
// fake. The payload goes over the stdin pipe; argv stays small. Run returns
// stdout, stderr and the process error.
type ProcessRunner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, []byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Sandbox executes analysis snippets in an isolated interpreter process.
// Each run gets a fresh process, one dataframe, a wall-clock limit and an
// address-space limit. Failures come back classified on the error taxonomy.
type Sandbox struct {
	runner         ProcessRunner
	validator      *CodeValidator
	pythonPath     string
	timeout        time.Duration
	memoryMB       int
	maxOutputBytes int
	maxInputRows   int
	maxInputCells  int
}

// NewSandbox creates a sandbox that spawns real interpreter processes.
func NewSandbox(pythonPath string, timeout time.Duration, memoryMB int) *Sandbox {
	if pythonPath == "" {
		pythonPath = "python3"
	}
	return &Sandbox{
		runner:         execRunner{},
		validator:      NewCodeValidator(),
		pythonPath:     pythonPath,
		timeout:        timeout,
		memoryMB:       memoryMB,
		maxOutputBytes: 512 * 1024,
		maxInputRows:   100000,
		maxInputCells:  1000000,
	}
}

// SetRunner substitutes the process runner (tests).
func (s *Sandbox) SetRunner(r ProcessRunner) {
	s.runner = r
}

// SetInputLimits overrides the working-copy row and cell caps.
func (s *Sandbox) SetInputLimits(maxRows, maxCells int) {
	s.maxInputRows = maxRows
	s.maxInputCells = maxCells
}

type sandboxPayload struct {
	Code     string          `json:"code"`
	Columns  []string        `json:"columns"`
	Rows     [][]interface{} `json:"rows"`
	MemoryMB int             `json:"memory_mb"`
}

type sandboxReply struct {
	OK      bool                  `json:"ok"`
	Result  interface{}           `json:"result"`
	Stdout  string                `json:"stdout"`
	Table   *database.ResultTable `json:"table"`
	Plot    *PlotSpec             `json:"plot"`
	Error   string                `json:"error"`
	Message string                `json:"message"`
}

// Run validates and executes one snippet against the given dataframe. The
// returned error, when non-nil, is always a *ToolError.
func (s *Sandbox) Run(ctx context.Context, code string, columns []string, rows [][]interface{}) (*SandboxResult, error) {
	if res := s.validator.ValidateCode(code); !res.Valid {
		return nil, ToolErrorf(KindRuntimeFault, "code rejected: %s", strings.Join(res.Errors, "; "))
	}

	// The working copy is bounded before anything is serialized or spawned.
	if len(rows) > s.maxInputRows {
		return nil, ToolErrorf(KindResourceExceeded, "dataset has %d rows, above the sandbox limit of %d", len(rows), s.maxInputRows)
	}
	if cells := len(rows) * len(columns); cells > s.maxInputCells {
		return nil, ToolErrorf(KindResourceExceeded, "dataset has %d cells, above the sandbox limit of %d", cells, s.maxInputCells)
	}

	payload, err := json.Marshal(sandboxPayload{
		Code:     code,
		Columns:  columns,
		Rows:     rows,
		MemoryMB: s.memoryMB,
	})
	if err != nil {
		return nil, NewToolError(KindInternal, fmt.Errorf("failed to encode sandbox payload: %w", err))
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// -I: isolated mode, -S: skip site, -E: ignore PYTHON* env vars.
	stdout, stderr, runErr := s.runner.Run(runCtx, s.pythonPath,
		[]string{"-I", "-S", "-E", "-c", sandboxBootstrap}, []byte(encoded))

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, ToolErrorf(KindTimeout, "code execution exceeded %s", s.timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, NewToolError(KindInternal, ctx.Err())
	}
	if len(stdout) > s.maxOutputBytes {
		return nil, ToolErrorf(KindResourceExceeded, "sandbox output exceeded %d bytes", s.maxOutputBytes)
	}

	reply, parseErr := parseSandboxReply(stdout)
	if parseErr != nil {
		if runErr != nil {
			// The worker died before it could report. A SIGKILL from the
			// kernel OOM path lands here.
			msg := strings.TrimSpace(string(stderr))
			if msg == "" {
				msg = runErr.Error()
			}
			if strings.Contains(msg, "MemoryError") {
				return nil, ToolErrorf(KindResourceExceeded, "memory limit exceeded")
			}
			return nil, ToolErrorf(KindRuntimeFault, "sandbox process failed: %s", truncateString(msg, 500))
		}
		return nil, NewToolError(KindInternal, parseErr)
	}

	if !reply.OK {
		kind := KindRuntimeFault
		if reply.Error == string(KindResourceExceeded) {
			kind = KindResourceExceeded
		}
		return nil, ToolErrorf(kind, "%s", reply.Message)
	}

	return &SandboxResult{Result: reply.Result, Stdout: reply.Stdout, Table: reply.Table, Plot: reply.Plot}, nil
}

// parseSandboxReply picks the report line out of the worker's stdout. The
// last non-empty line wins so stray interpreter noise is tolerated.
func parseSandboxReply(stdout []byte) (*sandboxReply, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var reply sandboxReply
		if err := json.Unmarshal([]byte(line), &reply); err == nil {
			return &reply, nil
		}
	}
	return nil, fmt.Errorf("no result line in sandbox output")
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
