// Package scene holds the snapshot value object: the serialized form of one
// saved drawing state. Two encodings exist historically, a bare element array
// and the canonical {elements, viewState} envelope; Normalize accepts both,
// Marshal always writes the envelope.
package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Element is one drawable record owned entirely by the drawing surface. It is
// opaque to this module: order must be preserved and no field other than the
// soft-delete flag may be inspected.
type Element = json.RawMessage

// Encoding tags which physical snapshot encoding a payload used.
type Encoding int

const (
	EncodingEnvelope Encoding = iota
	EncodingLegacyArray
)

func (e Encoding) String() string {
	if e == EncodingLegacyArray {
		return "legacy-array"
	}
	return "envelope"
}

// Scene is the decoded snapshot: an ordered element sequence plus rendering
// preferences.
type Scene struct {
	Elements  []Element      `json:"elements"`
	ViewState map[string]any `json:"viewState,omitempty"`
}

type envelope struct {
	Elements  []Element      `json:"elements"`
	ViewState map[string]any `json:"viewState,omitempty"`
}

// Normalize decodes a persisted snapshot in either encoding. Callers decide
// the fallback policy on error; the usual one is an empty scene.
func Normalize(data []byte) (Scene, Encoding, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Scene{Elements: []Element{}}, EncodingEnvelope, nil
	}

	switch trimmed[0] {
	case '[':
		var elements []Element
		if err := json.Unmarshal(trimmed, &elements); err != nil {
			return Scene{}, EncodingLegacyArray, fmt.Errorf("decode legacy snapshot: %w", err)
		}
		if elements == nil {
			elements = []Element{}
		}
		return Scene{Elements: elements}, EncodingLegacyArray, nil
	case '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Scene{}, EncodingEnvelope, fmt.Errorf("decode snapshot envelope: %w", err)
		}
		if env.Elements == nil {
			env.Elements = []Element{}
		}
		return Scene{Elements: env.Elements, ViewState: env.ViewState}, EncodingEnvelope, nil
	default:
		return Scene{}, EncodingEnvelope, fmt.Errorf("unrecognized snapshot encoding")
	}
}

// Marshal writes the canonical envelope. Elements are never encoded as null.
func Marshal(s Scene) ([]byte, error) {
	if s.Elements == nil {
		s.Elements = []Element{}
	}
	return json.Marshal(envelope{Elements: s.Elements, ViewState: s.ViewState})
}

// persistedViewKeys is the allow-list of view-state entries worth keeping
// across sessions. Everything else is ephemeral UI chrome.
var persistedViewKeys = []string{
	"viewBackgroundColor",
	"gridSize",
	"currentItemFontFamily",
	"currentItemFontSize",
}

// PersistedViewState filters a view state down to the durable subset.
func PersistedViewState(vs map[string]any) map[string]any {
	if len(vs) == 0 {
		return nil
	}
	subset := make(map[string]any, len(persistedViewKeys))
	for _, key := range persistedViewKeys {
		if v, ok := vs[key]; ok {
			subset[key] = v
		}
	}
	if len(subset) == 0 {
		return nil
	}
	return subset
}

// BackgroundColor extracts the scene background color, if set.
func BackgroundColor(vs map[string]any) string {
	if vs == nil {
		return ""
	}
	if c, ok := vs["viewBackgroundColor"].(string); ok {
		return c
	}
	return ""
}

// AllDeleted reports whether every element in a non-empty sequence carries
// the soft-delete flag.
func AllDeleted(elements []Element) bool {
	if len(elements) == 0 {
		return false
	}
	for _, el := range elements {
		var probe struct {
			IsDeleted bool `json:"isDeleted"`
		}
		if err := json.Unmarshal(el, &probe); err != nil || !probe.IsDeleted {
			return false
		}
	}
	return true
}
