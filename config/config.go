package config

// Config structure
type Config struct {
	LLMProvider    string `json:"llmProvider"`
	APIKey         string `json:"apiKey"`
	BaseURL        string `json:"baseUrl"`
	ModelName      string `json:"modelName"`
	MaxTokens      int    `json:"maxTokens"`
	Language       string `json:"language"`
	DataCacheDir   string `json:"dataCacheDir"`
	PythonPath     string `json:"pythonPath"`
	MaxSteps       int    `json:"maxSteps"`       // Tool-dispatch rounds allowed per request
	CodeTimeoutSec int    `json:"codeTimeoutSec"` // Wall-clock limit for sandboxed code
	CodeMemoryMB   int    `json:"codeMemoryMB"`   // Address-space limit for sandboxed code
	MaxPreviewRows int    `json:"maxPreviewRows"`
	DetailedLog    bool   `json:"detailedLog"`
}
