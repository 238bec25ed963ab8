// Package config loads the TOML configuration used by the agentstep CLI and
// the root facade. Values are resolved in three layers: built-in defaults,
// the TOML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/model/local"
)

type Config struct {
	Backend BackendConfig `toml:"backend"`
	Local   LocalConfig   `toml:"local"`
	Storage StorageConfig `toml:"storage"`
	Notify  NotifyConfig  `toml:"notify"`
	Log     LogConfig     `toml:"log"`
	Engine  EngineConfig  `toml:"engine"`
	Agents  []AgentConfig `toml:"agents"`
}

type BackendConfig struct {
	// Default is used by agents that name no backend.
	Default   string         `toml:"default"`
	OpenAI    ProviderConfig `toml:"openai"`
	Anthropic ProviderConfig `toml:"anthropic"`
	Groq      ProviderConfig `toml:"groq"`
	DeepSeek  ProviderConfig `toml:"deepseek"`
	XAI       ProviderConfig `toml:"xai"`
	Ollama    ProviderConfig `toml:"ollama"`
	// Compatible is any OpenAI compatible endpoint; BaseURL is required.
	Compatible ProviderConfig `toml:"compatible"`
}

// ProviderConfig holds the connection settings of one remote provider.
type ProviderConfig struct {
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url"`
	Model       string  `toml:"model"`
	ImageModel  string  `toml:"image_model"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int64   `toml:"max_tokens"`
	Stream      bool    `toml:"stream"`
	// Reasoning names a classifier for inline <think> spans ("think", "qwq").
	Reasoning string `toml:"reasoning"`
}

type LocalConfig struct {
	ModelsPath  string        `toml:"models_path"`
	MaxTokens   int           `toml:"max_tokens"`
	ContextSize int           `toml:"context_size"`
	GPULayers   int           `toml:"gpu_layers"`
	BypassCache bool          `toml:"bypass_cache"`
	Models      []local.Entry `toml:"models"`
}

type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

type NotifyConfig struct {
	Addr       string `toml:"addr"`
	BufferSize int    `toml:"buffer_size"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type EngineConfig struct {
	MaxConcurrentInvocations int `toml:"max_concurrent_invocations"`
	MaxToolIterations        int `toml:"max_tool_iterations"`
	ParallelToolCalls        int `toml:"parallel_tool_calls"`
}

// AgentConfig declares an agent the CLI creates on first use.
type AgentConfig struct {
	ID          string            `toml:"id"`
	Name        string            `toml:"name"`
	Description string            `toml:"description"`
	Model       string            `toml:"model"`
	Backend     string            `toml:"backend"`
	Instruction string            `toml:"instruction"`
	Behaviors   map[string]string `toml:"behaviors"`
	Steps       []string          `toml:"steps"`
	Source      *SourceConfig     `toml:"source"`
	Mcp         *McpConfig        `toml:"mcp"`
	Interactive bool              `toml:"interactive"`
	Visual      bool              `toml:"visual"`
}

type SourceConfig struct {
	Type  string            `toml:"type"`
	Text  string            `toml:"text"`
	Files map[string]string `toml:"files"`
	URL   string            `toml:"url"`

	Method   string            `toml:"method"`
	Payload  string            `toml:"payload"`
	Query    map[string]string `toml:"query"`
	Headers  map[string]string `toml:"headers"`
	Auth     string            `toml:"auth"`
	Token    string            `toml:"token"`
	User     string            `toml:"user"`
	Password string            `toml:"password"`

	ConnectionString string `toml:"connection_string"`
	SQL              string `toml:"sql"`
}

type McpConfig struct {
	Name      string            `toml:"name"`
	Command   string            `toml:"command"`
	Arguments []string          `toml:"arguments"`
	Env       map[string]string `toml:"env"`
	Model     string            `toml:"model"`
	Backend   string            `toml:"backend"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			Default:   string(core.BackendLocal),
			OpenAI:    ProviderConfig{Model: "gpt-4o-mini", ImageModel: "dall-e-3", Stream: true},
			Anthropic: ProviderConfig{Model: "claude-3-5-haiku-latest", MaxTokens: 4096, Stream: true},
			Groq:      ProviderConfig{Stream: true},
			DeepSeek:  ProviderConfig{Stream: true, Reasoning: "think"},
			XAI:       ProviderConfig{Stream: true},
			Ollama:    ProviderConfig{Stream: true},
		},
		Local: LocalConfig{
			ModelsPath:  "models",
			MaxTokens:   4096,
			ContextSize: 8192,
		},
		Storage: StorageConfig{Driver: "memory", Path: "agentstep.db"},
		Notify:  NotifyConfig{Addr: ":8090", BufferSize: 256},
		Log:     LogConfig{Level: "info", Format: "text"},
		Engine:  EngineConfig{MaxConcurrentInvocations: 10, MaxToolIterations: 5},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Backend.OpenAI.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Backend.Anthropic.APIKey = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.Backend.Groq.APIKey = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		cfg.Backend.DeepSeek.APIKey = v
	}
	if v := os.Getenv("XAI_API_KEY"); v != "" {
		cfg.Backend.XAI.APIKey = v
	}
	if v := os.Getenv("AGENTSTEP_MODELS_PATH"); v != "" {
		cfg.Local.ModelsPath = v
	}
	if v := os.Getenv("AGENTSTEP_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate reports settings that cannot work at all.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return core.NewConfigError("storage", fmt.Errorf("unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return core.NewConfigError("storage", errors.New("sqlite driver needs a path"))
	}
	seen := map[string]bool{}
	for i, a := range c.Agents {
		if a.ID == "" {
			return core.NewConfigError("agents", fmt.Errorf("agent %d has no id", i))
		}
		if seen[a.ID] {
			return core.NewConfigError("agents", fmt.Errorf("duplicate agent id %q", a.ID))
		}
		seen[a.ID] = true
	}
	return nil
}

// Provider returns the settings of backend t and whether t is a remote
// provider known to the configuration.
func (c Config) Provider(t core.BackendType) (ProviderConfig, bool) {
	switch t {
	case core.BackendOpenAI:
		return c.Backend.OpenAI, true
	case core.BackendAnthropic:
		return c.Backend.Anthropic, true
	case core.BackendGroq:
		return c.Backend.Groq, true
	case core.BackendDeepSeek:
		return c.Backend.DeepSeek, true
	case core.BackendXAI:
		return c.Backend.XAI, true
	case core.BackendOllama:
		return c.Backend.Ollama, true
	case core.BackendCompatible:
		return c.Backend.Compatible, true
	}
	return ProviderConfig{}, false
}

// Agent looks up a declared agent by id.
func (c Config) Agent(id string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// ToAgent converts the declaration into a core.Agent. The backend falls
// back to def when the declaration names none.
func (a AgentConfig) ToAgent(def core.BackendType) *core.Agent {
	agent := &core.Agent{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		Model:       a.Model,
		Backend:     core.BackendType(a.Backend),
		Instruction: a.Instruction,
		Behaviors:   map[string]string{},
		Steps:       append([]string(nil), a.Steps...),
	}
	if agent.Backend == "" {
		agent.Backend = def
	}
	for k, v := range a.Behaviors {
		agent.Behaviors[k] = v
	}
	if a.Source != nil {
		agent.Source = a.Source.toDataSource()
	}
	if a.Mcp != nil {
		agent.Mcp = &core.McpConfig{
			Name:      a.Mcp.Name,
			Command:   a.Mcp.Command,
			Arguments: append([]string(nil), a.Mcp.Arguments...),
			Env:       a.Mcp.Env,
			Model:     a.Mcp.Model,
			Backend:   core.BackendType(a.Mcp.Backend),
		}
	}
	return agent
}

func (s SourceConfig) toDataSource() *core.DataSource {
	ds := &core.DataSource{
		Type:  core.DataSourceType(s.Type),
		Text:  s.Text,
		Files: s.Files,
		URL:   s.URL,
	}
	switch ds.Type {
	case core.SourceAPI:
		ds.API = &core.APISource{
			URL:      s.URL,
			Method:   s.Method,
			Payload:  s.Payload,
			Query:    s.Query,
			Headers:  s.Headers,
			Auth:     core.AuthType(s.Auth),
			Token:    s.Token,
			User:     s.User,
			Password: s.Password,
		}
	case core.SourceSQL:
		ds.SQL = &core.SQLSource{ConnectionString: s.ConnectionString, Query: s.SQL}
	}
	return ds
}
