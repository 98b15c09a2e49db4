package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ModeMap is an insertion-ordered mapping of mode key to mode config. Order
// matters: help text enumerates modes in config order.
type ModeMap struct {
	order []string
	items map[string]*ModeConfig
}

// UnmarshalYAML decodes a yaml mapping while preserving key order.
func (m *ModeMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("modes: expected mapping, got %s", kindName(value.Kind))
	}
	m.order = nil
	m.items = make(map[string]*ModeConfig)
	for i := 0; i < len(value.Content)-1; i += 2 {
		var key string
		if err := value.Content[i].Decode(&key); err != nil {
			return err
		}
		cfg := &ModeConfig{}
		if err := value.Content[i+1].Decode(cfg); err != nil {
			return fmt.Errorf("mode %q: %w", key, err)
		}
		if _, exists := m.items[key]; !exists {
			m.order = append(m.order, key)
		}
		m.items[key] = cfg
	}
	return nil
}

// Get returns the mode config for key.
func (m ModeMap) Get(key string) (*ModeConfig, bool) {
	cfg, ok := m.items[key]
	return cfg, ok
}

// Keys returns mode keys in config order.
func (m ModeMap) Keys() []string { return m.order }

// Len returns the number of modes.
func (m ModeMap) Len() int { return len(m.order) }

// TriggerMap is an insertion-ordered mapping of trigger token to overrides.
// The first trigger of a mode is its default trigger.
type TriggerMap struct {
	order []string
	items map[string]*TriggerConfig
}

// UnmarshalYAML decodes a yaml mapping while preserving key order.
func (m *TriggerMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("triggers: expected mapping, got %s", kindName(value.Kind))
	}
	m.order = nil
	m.items = make(map[string]*TriggerConfig)
	for i := 0; i < len(value.Content)-1; i += 2 {
		var key string
		if err := value.Content[i].Decode(&key); err != nil {
			return err
		}
		cfg := &TriggerConfig{}
		// A trigger may map to null (no overrides).
		if value.Content[i+1].Kind != yaml.ScalarNode || value.Content[i+1].Tag != "!!null" {
			if err := value.Content[i+1].Decode(cfg); err != nil {
				return fmt.Errorf("trigger %q: %w", key, err)
			}
		}
		if _, exists := m.items[key]; !exists {
			m.order = append(m.order, key)
		}
		m.items[key] = cfg
	}
	return nil
}

// Get returns the trigger overrides for key.
func (m TriggerMap) Get(key string) (*TriggerConfig, bool) {
	cfg, ok := m.items[key]
	return cfg, ok
}

// Keys returns trigger tokens in config order.
func (m TriggerMap) Keys() []string { return m.order }

// Len returns the number of triggers.
func (m TriggerMap) Len() int { return len(m.order) }

// LabelMap is an insertion-ordered mapping of classifier label to trigger.
// The first label is the default fallback.
type LabelMap struct {
	order []string
	items map[string]string
}

// UnmarshalYAML decodes a yaml mapping while preserving key order.
func (m *LabelMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("labels: expected mapping, got %s", kindName(value.Kind))
	}
	m.order = nil
	m.items = make(map[string]string)
	for i := 0; i < len(value.Content)-1; i += 2 {
		var key, val string
		if err := value.Content[i].Decode(&key); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&val); err != nil {
			return fmt.Errorf("label %q: %w", key, err)
		}
		if _, exists := m.items[key]; !exists {
			m.order = append(m.order, key)
		}
		m.items[key] = val
	}
	return nil
}

// Get returns the trigger for a label.
func (m LabelMap) Get(label string) (string, bool) {
	trigger, ok := m.items[label]
	return trigger, ok
}

// Keys returns labels in config order.
func (m LabelMap) Keys() []string { return m.order }

// Len returns the number of labels.
func (m LabelMap) Len() int { return len(m.order) }

// ModelList accepts either a scalar model spec or a sequence of specs.
type ModelList []string

// UnmarshalYAML decodes a scalar as a single-element list.
func (l *ModelList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*l = ModelList{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = ModelList(items)
		return nil
	default:
		return fmt.Errorf("model: expected string or list, got %s", kindName(value.Kind))
	}
}

// First returns the first model or "".
func (l ModelList) First() string {
	if len(l) == 0 {
		return ""
	}
	return l[0]
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
