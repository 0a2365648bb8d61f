package llm

import "encoding/json"

// Classification is the verdict for one (message, rule prompt) pair.
type Classification struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Entities is the structured payload extracted from a matched message.
// Unknown keys returned by the model are preserved in Extra so downstream
// consumers can evolve without a schema change here.
type Entities struct {
	Contacts []string `json:"contacts"`
	Keywords []string `json:"keywords"`
	Budget   *string  `json:"budget"`
	Deadline *string  `json:"deadline"`
	Summary  string   `json:"summary"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownEntityKeys = map[string]bool{
	"contacts": true,
	"keywords": true,
	"budget":   true,
	"deadline": true,
	"summary":  true,
}

func (e *Entities) UnmarshalJSON(data []byte) error {
	type plain Entities
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entities(p)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if knownEntityKeys[k] {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]json.RawMessage)
		}
		e.Extra[k] = v
	}
	return nil
}

func (e Entities) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, 5+len(e.Extra))
	out["contacts"] = emptyIfNil(e.Contacts)
	out["keywords"] = emptyIfNil(e.Keywords)
	out["budget"] = e.Budget
	out["deadline"] = e.Deadline
	out["summary"] = e.Summary
	for k, v := range e.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FallbackEntities returns the degraded extraction payload: empty fields and
// a truncated-text summary. Used when the extract call fails or returns
// something unparseable.
func FallbackEntities(messageText string) Entities {
	return Entities{
		Contacts: []string{},
		Keywords: []string{},
		Summary:  Truncate(messageText, 200),
	}
}

// Truncate shortens s to at most max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
