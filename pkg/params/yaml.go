package params

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MarshalYAML writes the map as a YAML mapping in key order, each value
// list as a flow sequence of strings
func (m *Map) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range m.keys {
		seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, v := range m.values[k] {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v})
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			seq,
		)
	}
	return node, nil
}

// UnmarshalYAML reads a mapping whose values are scalars or sequences of scalars
func (m *Map) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: parameter map must be a mapping", node.Line)
	}
	m.keys = nil
	m.values = make(map[string][]string)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch value.Kind {
		case yaml.ScalarNode:
			m.Set(key.Value, value.Value)
		case yaml.SequenceNode:
			values := make([]string, 0, len(value.Content))
			for _, item := range value.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("line %d: parameter %s: values must be scalars", item.Line, key.Value)
				}
				values = append(values, item.Value)
			}
			m.Set(key.Value, values...)
		default:
			return fmt.Errorf("line %d: parameter %s: unsupported value", value.Line, key.Value)
		}
	}
	return nil
}

// Encode renders a chain of parameter maps, the first being the initial
// transform, as one YAML document
func Encode(maps ...*Map) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(maps); err != nil {
		return nil, fmt.Errorf("error marshaling parameter maps: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("error marshaling parameter maps: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a document written by Encode. A single mapping is
// accepted as a chain of one.
func Decode(data []byte) ([]*Map, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing parameter maps: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("error parsing parameter maps: empty document")
	}
	root := doc.Content[0]

	var maps []*Map
	switch root.Kind {
	case yaml.MappingNode:
		m := NewMap()
		if err := root.Decode(m); err != nil {
			return nil, fmt.Errorf("error parsing parameter map: %w", err)
		}
		maps = append(maps, m)
	case yaml.SequenceNode:
		if err := root.Decode(&maps); err != nil {
			return nil, fmt.Errorf("error parsing parameter maps: %w", err)
		}
	default:
		return nil, fmt.Errorf("error parsing parameter maps: expected a mapping or a list of mappings")
	}
	return maps, nil
}

// Save writes parameter maps to a YAML file
func Save(path string, maps ...*Map) error {
	data, err := Encode(maps...)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating parameter directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing parameter file: %w", err)
	}
	return nil
}

// Load reads parameter maps from a YAML file
func Load(path string) ([]*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading parameter file: %w", err)
	}
	return Decode(data)
}
