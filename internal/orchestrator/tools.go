package orchestrator

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/emotifriend/backend/internal/gateway"
	"github.com/emotifriend/backend/internal/model/persona"
)

// Effect is a validated settings change requested by the reply model.
type Effect interface {
	effect()
}

// ChangeLanguage switches the conversation language for future replies.
type ChangeLanguage struct {
	Language string
}

// ChangeVoiceGender switches the synthesized voice.
type ChangeVoiceGender struct {
	Gender persona.Gender
}

func (ChangeLanguage) effect()    {}
func (ChangeVoiceGender) effect() {}

// ParseToolCalls validates raw tool calls into effects. Calls with an
// unknown name or malformed arguments are logged and skipped, never
// surfaced to the user.
func ParseToolCalls(calls []gateway.ToolCall) []Effect {
	var effects []Effect
	for _, call := range calls {
		switch call.Name {
		case "changeLanguage":
			var args struct {
				Language string `json:"language"`
			}
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				log.Printf("[orchestrator] bad changeLanguage arguments: %v", err)
				continue
			}
			lang := strings.TrimSpace(args.Language)
			if lang == "" {
				log.Printf("[orchestrator] changeLanguage missing language")
				continue
			}
			effects = append(effects, ChangeLanguage{Language: lang})
		case "changeVoiceGender":
			var args struct {
				Gender string `json:"gender"`
			}
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				log.Printf("[orchestrator] bad changeVoiceGender arguments: %v", err)
				continue
			}
			g, ok := persona.ParseGender(args.Gender)
			if !ok {
				log.Printf("[orchestrator] changeVoiceGender unknown gender %q", args.Gender)
				continue
			}
			effects = append(effects, ChangeVoiceGender{Gender: g})
		default:
			log.Printf("[orchestrator] ignoring unknown tool call %q", call.Name)
		}
	}
	return effects
}

// applyEffect mutates the persona. Applying the same effect twice is a
// no-op, so replayed tool calls are harmless.
func (o *Orchestrator) applyEffect(effect Effect) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch e := effect.(type) {
	case ChangeLanguage:
		if o.persona.Language != e.Language {
			log.Printf("[orchestrator] language -> %s", e.Language)
			o.persona.Language = e.Language
		}
	case ChangeVoiceGender:
		if o.persona.Gender != e.Gender {
			log.Printf("[orchestrator] voice gender -> %s", e.Gender)
			o.persona.Gender = e.Gender
		}
	}
}
