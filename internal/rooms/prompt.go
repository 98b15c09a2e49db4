package rooms

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/parley/internal/modelspec"
)

// triggerModelRe matches {<trigger>_model} prompt placeholders, e.g.
// {!s_model}.
var triggerModelRe = regexp.MustCompile(`\{(![A-Za-z][\w-]*)_model\}`)

// BuildSystemPrompt renders the mode's prompt template: {mynick},
// {current_time}, every prompt_vars entry, and {<trigger>_model} placeholders
// resolved to core model names. modelOverride applies only to triggers of the
// current mode. A placeholder naming an unknown trigger is an error.
func (h *Handler) BuildSystemPrompt(mode, mynick, modelOverride string) (string, error) {
	modeCfg, ok := h.cfg.Command.Modes.Get(mode)
	if !ok {
		return "", fmt.Errorf("command mode %q not found in config", mode)
	}
	template := modeCfg.Prompt

	var unknownTrigger string
	template = triggerModelRe.ReplaceAllStringFunc(template, func(placeholder string) string {
		trigger := triggerModelRe.FindStringSubmatch(placeholder)[1]
		modeKey, ok := h.resolver.triggerToMode[trigger]
		if !ok {
			if unknownTrigger == "" {
				unknownTrigger = trigger
			}
			return placeholder
		}
		if overrides := h.resolver.triggerOverride[trigger]; overrides != nil && len(overrides.Model) > 0 {
			return modelspec.CoreNameOfFirst(overrides.Model)
		}
		if modeKey == mode && modelOverride != "" {
			return modelspec.CoreName(modelOverride)
		}
		triggerMode, _ := h.cfg.Command.Modes.Get(modeKey)
		return modelspec.CoreNameOfFirst(triggerMode.Model)
	})
	if unknownTrigger != "" {
		return "", fmt.Errorf("prompt placeholder '{%s_model}' references unknown trigger", unknownTrigger)
	}

	replacements := []string{
		"{mynick}", mynick,
		"{current_time}", h.now().Format("2006-01-02 15:04"),
	}
	for name, value := range h.cfg.PromptVars {
		replacements = append(replacements, "{"+name+"}", value)
	}
	return strings.NewReplacer(replacements...).Replace(template), nil
}
