// Package modelspec parses model specifier strings of the form
// "provider:namespace/model#routing" used throughout the configuration.
package modelspec

import (
	"fmt"
	"regexp"
	"strings"
)

// Spec is a parsed model specifier.
type Spec struct {
	// Provider is the upstream provider key, e.g. "openai" or "anthropic".
	Provider string

	// Namespace is an optional model namespace, e.g. an org or account prefix.
	Namespace string

	// Name is the bare model identifier.
	Name string

	// Routing carries optional comma-separated routing hints after '#'.
	Routing []string
}

// coreNameRe reduces any spec to its bare model identifier:
// provider:namespace/model#routing -> model.
var coreNameRe = regexp.MustCompile(`(?:[-\w]*:)?(?:[-\w]*/)?([-\w]+)(?:#[-\w,]*)?`)

// Parse parses a model spec string. The provider prefix is required.
func Parse(spec string) (Spec, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return Spec{}, fmt.Errorf("empty model spec")
	}

	var routing []string
	if idx := strings.IndexByte(s, '#'); idx >= 0 {
		for _, hint := range strings.Split(s[idx+1:], ",") {
			if hint = strings.TrimSpace(hint); hint != "" {
				routing = append(routing, hint)
			}
		}
		s = s[:idx]
	}

	provider, rest, ok := strings.Cut(s, ":")
	if !ok || provider == "" || rest == "" {
		return Spec{}, fmt.Errorf("could not parse model spec %q: want provider:model", spec)
	}

	namespace, name, ok := strings.Cut(rest, "/")
	if !ok {
		name, namespace = namespace, ""
	}
	if name == "" {
		return Spec{}, fmt.Errorf("could not parse model spec %q: missing model name", spec)
	}

	return Spec{
		Provider:  provider,
		Namespace: namespace,
		Name:      name,
		Routing:   routing,
	}, nil
}

// CoreName extracts the bare model identifier from a spec string without
// requiring it to be fully well-formed. Used for prompts and announcements.
func CoreName(spec string) string {
	return coreNameRe.ReplaceAllString(spec, "$1")
}

// CoreNameOfFirst returns the core name of the first entry in a model list,
// or "" for an empty list.
func CoreNameOfFirst(models []string) string {
	if len(models) == 0 {
		return ""
	}
	return CoreName(models[0])
}
