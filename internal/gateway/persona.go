package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPersona is returned by ParsePersona for values other than the two personas.
var ErrUnknownPersona = errors.New("unknown persona")

// Persona selects the system prompt the agent runs under.
type Persona string

const (
	PersonaDataScientist Persona = "data-scientist"
	PersonaSupervisor    Persona = "supervisor"
)

// ParsePersona accepts "data-scientist", "data scientist", "datascientist"
// and "supervisor" in any case.
func ParsePersona(s string) (Persona, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(norm)
	switch norm {
	case "datascientist":
		return PersonaDataScientist, nil
	case "supervisor":
		return PersonaSupervisor, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPersona, s)
}

func (p Persona) Valid() bool {
	return p == PersonaDataScientist || p == PersonaSupervisor
}

const commonRules = `

Rules:
- Call search_registry whenever the user asks to find, list or filter models. Use only the domains listed in its schema.
- Call trigger_registration_form when the user wants to register or submit a model.
- Call fetch_approval_queue when the user asks about pending approvals or the review queue.
- Call trigger_automl_orchestration only when platform, dataset and task are all known; otherwise ask for the missing values.
- Call at most one tool per reply. Keep the text reply short; the interface renders tool results.
- Never claim a model was approved, rejected or registered. Those actions happen in the interface.`

const dataScientistPrompt = `You are the assistant of an ML model workbench, helping a data scientist.
Focus on discovering models, comparing their accuracy and latency, preparing new registrations and launching AutoML experiments.
Be technical and precise.` + commonRules

const supervisorPrompt = `You are the assistant of an ML model workbench, helping a supervisor who governs model releases.
Focus on the approval queue, compliance, monitoring health and the risk of models trained on sensitive data.
Be concise and decision oriented.` + commonRules

// SystemPrompt returns the system prompt for the persona.
func (p Persona) SystemPrompt() string {
	if p == PersonaSupervisor {
		return supervisorPrompt
	}
	return dataScientistPrompt
}
