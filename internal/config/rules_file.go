package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/deploymenttheory/go-blockinject/internal/locators"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

// RulesFile is a JSON-with-comments file of corruption specifications:
//
//	{
//	  // filesystem kind, defaults to the configured one
//	  "fs": "ext4",
//	  "rules": ["Wi5[i_mode]", "dir1", "/a/b", "inode"],
//	  "messages": ["start"],
//	}
type RulesFile struct {
	FS       string   `json:"fs,omitempty"`
	Rules    []string `json:"rules"`
	Messages []string `json:"messages,omitempty"`
}

// LoadRules reads and validates a rules file. fallback is the kind used
// when the file names none.
func LoadRules(path string, fallback types.FSKind) (*RulesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rf, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	if rf.FS == "" {
		rf.FS = string(fallback)
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return rf, nil
}

// ParseRules decodes rules file content.
func ParseRules(data []byte) (*RulesFile, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, types.NewConfigError("", "invalid JSONC: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var rf RulesFile
	if err := dec.Decode(&rf); err != nil {
		return nil, types.NewConfigError("", "invalid JSON: %v", err)
	}
	return &rf, nil
}

// Validate checks the kind and parses every rule against its grammar.
func (rf *RulesFile) Validate() error {
	g, err := locators.Grammar(types.FSKind(rf.FS))
	if err != nil {
		return err
	}
	if _, err := g.Parse(rf.Rules); err != nil {
		return err
	}
	return nil
}
