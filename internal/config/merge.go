package config

import "gopkg.in/yaml.v3"

// mergeNodes deep-merges two yaml mapping nodes, override winning for plain
// keys. Two keys get special treatment at any depth:
//
//   - ignore_users: sequences concatenate (common first, then room)
//   - prompt_vars: per-key merge where string values concatenate
//
// Other sequences are replaced wholesale by the override. Key order of the
// base is preserved; new override keys append in their own order.
func mergeNodes(base, override *yaml.Node) *yaml.Node {
	base = resolveAlias(base)
	override = resolveAlias(override)

	if base == nil {
		return cloneNode(override)
	}
	if override == nil {
		return cloneNode(base)
	}
	if base.Kind != yaml.MappingNode || override.Kind != yaml.MappingNode {
		return cloneNode(override)
	}
	return mergeMappings(base, override)
}

func mergeMappings(base, override *yaml.Node) *yaml.Node {
	merged := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	used := make(map[string]bool)

	for i := 0; i < len(base.Content)-1; i += 2 {
		key := base.Content[i]
		baseVal := base.Content[i+1]
		if overVal, ok := mappingValue(override, key.Value); ok {
			used[key.Value] = true
			merged.Content = append(merged.Content,
				cloneNode(key), mergeValue(key.Value, baseVal, overVal))
		} else {
			merged.Content = append(merged.Content, cloneNode(key), cloneNode(baseVal))
		}
	}

	for i := 0; i < len(override.Content)-1; i += 2 {
		key := override.Content[i]
		if used[key.Value] {
			continue
		}
		merged.Content = append(merged.Content,
			cloneNode(key), cloneNode(override.Content[i+1]))
	}

	return merged
}

func mergeValue(key string, base, override *yaml.Node) *yaml.Node {
	base = resolveAlias(base)
	override = resolveAlias(override)
	if base == nil || override == nil {
		return cloneNode(override)
	}

	if key == "ignore_users" && base.Kind == yaml.SequenceNode && override.Kind == yaml.SequenceNode {
		out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, n := range base.Content {
			out.Content = append(out.Content, cloneNode(n))
		}
		for _, n := range override.Content {
			out.Content = append(out.Content, cloneNode(n))
		}
		return out
	}

	if key == "prompt_vars" && base.Kind == yaml.MappingNode && override.Kind == yaml.MappingNode {
		return mergePromptVars(base, override)
	}

	if base.Kind == yaml.MappingNode && override.Kind == yaml.MappingNode {
		return mergeMappings(base, override)
	}

	return cloneNode(override)
}

// mergePromptVars merges prompt_vars mappings: string values for the same key
// concatenate (common first); anything else is override-wins.
func mergePromptVars(base, override *yaml.Node) *yaml.Node {
	merged := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	used := make(map[string]bool)

	for i := 0; i < len(base.Content)-1; i += 2 {
		key := base.Content[i]
		baseVal := resolveAlias(base.Content[i+1])
		overVal, ok := mappingValue(override, key.Value)
		if !ok {
			merged.Content = append(merged.Content, cloneNode(key), cloneNode(baseVal))
			continue
		}
		used[key.Value] = true
		overVal = resolveAlias(overVal)
		if isStringScalar(baseVal) && isStringScalar(overVal) {
			merged.Content = append(merged.Content, cloneNode(key), &yaml.Node{
				Kind:  yaml.ScalarNode,
				Tag:   "!!str",
				Value: baseVal.Value + overVal.Value,
			})
			continue
		}
		merged.Content = append(merged.Content, cloneNode(key), cloneNode(overVal))
	}

	for i := 0; i < len(override.Content)-1; i += 2 {
		key := override.Content[i]
		if used[key.Value] {
			continue
		}
		merged.Content = append(merged.Content,
			cloneNode(key), cloneNode(override.Content[i+1]))
	}

	return merged
}

func mappingValue(mapping *yaml.Node, key string) (*yaml.Node, bool) {
	for i := 0; i < len(mapping.Content)-1; i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1], true
		}
	}
	return nil, false
}

func isStringScalar(n *yaml.Node) bool {
	return n != nil && n.Kind == yaml.ScalarNode && n.Tag == "!!str"
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func cloneNode(n *yaml.Node) *yaml.Node {
	n = resolveAlias(n)
	if n == nil {
		return nil
	}
	out := &yaml.Node{
		Kind:  n.Kind,
		Tag:   n.Tag,
		Value: n.Value,
		Style: n.Style,
	}
	for _, child := range n.Content {
		out.Content = append(out.Content, cloneNode(child))
	}
	return out
}
