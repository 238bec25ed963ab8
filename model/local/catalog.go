package local

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/model"
)

// Entry describes a model known to the local backend.
type Entry struct {
	Name     string `toml:"name"`
	FileName string `toml:"file"`
	// AdditionalPrompt is appended to the first user turn of a new session.
	AdditionalPrompt string `toml:"additional_prompt"`
	// Reasoning names a classifier in model.Reasoners.
	Reasoning string `toml:"reasoning"`
	// Template overrides the default prompt format (text/template).
	Template string `toml:"template"`
}

// Reasoner returns the entry's reasoning classifier or nil.
func (e Entry) Reasoner() model.ReasonFunc {
	if e.Reasoning == "" {
		return nil
	}
	return model.Reasoners[e.Reasoning]
}

// Catalog maps model names to entries. Lookup is case-insensitive and
// treats ':' and '-' as equivalent.
type Catalog struct {
	entries map[string]Entry
}

// NewCatalog builds a catalog from entries.
func NewCatalog(entries ...Entry) *Catalog {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		c.Add(e)
	}
	return c
}

const qwqPrompt = "- Output nothing before <think>, enclose all step-by-step reasoning (excluding the final answer) within <think>...</think>, and place the final answer immediately after the closing </think>"

// DefaultCatalog returns the built-in model list.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Entry{Name: "gemma2:2b", FileName: "Gemma2-2b.gguf"},
		Entry{Name: "gemma3:4b", FileName: "Gemma3-4b.gguf"},
		Entry{Name: "gemma3:12b", FileName: "Gemma3-12b.gguf"},
		Entry{Name: "llama3.1:8b", FileName: "Llama3.1-8b.gguf"},
		Entry{Name: "llama3.2:3b", FileName: "Llama3.2-3b.gguf"},
		Entry{Name: "hermes3:3b", FileName: "Hermes3-3b.gguf"},
		Entry{Name: "hermes3:8b", FileName: "Hermes3-8b.gguf"},
		Entry{Name: "qwen2.5:0.5b", FileName: "Qwen2.5-0.5b.gguf"},
		Entry{Name: "qwen2.5-coder:7b", FileName: "Qwen2.5-coder-7b.gguf"},
		Entry{Name: "qwen3:8b", FileName: "Qwen3-8b.gguf", Reasoning: "think"},
		Entry{Name: "qwen3:14b", FileName: "Qwen3-14b.gguf", Reasoning: "think"},
		Entry{Name: "deepseekR1:1.5b", FileName: "DeepSeekR1-1.5b.gguf", Reasoning: "think"},
		Entry{Name: "deepseekR1:8b", FileName: "DeepSeekR1-8b.gguf", Reasoning: "think"},
		Entry{Name: "qwq:7b", FileName: "QwQ-7b.gguf", Reasoning: "qwq", AdditionalPrompt: qwqPrompt},
		Entry{Name: "phi4:4b", FileName: "phi4-4b.gguf"},
		Entry{Name: "smollm2:0.1b", FileName: "Smollm2-0.1b.gguf"},
	)
}

func catalogKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), ":", "-")
}

// Add registers or replaces an entry.
func (c *Catalog) Add(e Entry) {
	c.entries[catalogKey(e.Name)] = e
}

// Lookup returns the entry for name.
func (c *Catalog) Lookup(name string) (Entry, error) {
	e, ok := c.entries[catalogKey(name)]
	if !ok {
		return Entry{}, core.NewConfigError("local model lookup", fmt.Errorf("%w: %q", core.ErrModelNotSupported, name))
	}
	return e, nil
}

// ByFileName returns the entry stored under fileName.
func (c *Catalog) ByFileName(fileName string) (Entry, bool) {
	for _, e := range c.entries {
		if e.FileName == fileName {
			return e, true
		}
	}
	return Entry{}, false
}

// Installed returns the names of catalog models whose file exists in dir,
// sorted.
func (c *Catalog) Installed(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read models path: %w", err)
	}
	var names []string
	for _, f := range files {
		if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), ".gguf") {
			continue
		}
		if e, ok := c.ByFileName(f.Name()); ok {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}
