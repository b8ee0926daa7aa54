// Package remote defines JSON helpers for the runtime wire format. This file
// decodes Turn content, which arrives either as a bare string or as an array
// of typed part objects discriminated by the "type" field, and emits the
// discriminated form on encode so round-trips preserve concrete part types.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
)

// UnmarshalJSON decodes Content from either a bare JSON string or an array of
// typed part objects. A bare string becomes a single TextPart.
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		if text == "" {
			*c = nil
			return nil
		}
		*c = Content{TextPart{Text: text}}
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("decode content: %w", err)
	}
	parts := make(Content, 0, len(raws))
	for i, raw := range raws {
		part, err := decodeContentPart(raw)
		if err != nil {
			return fmt.Errorf("decode content[%d]: %w", i, err)
		}
		parts = append(parts, part)
	}
	*c = parts
	return nil
}

func decodeContentPart(raw json.RawMessage) (Part, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return TextPart{Text: text}, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode part object: %w", err)
	}
	kindRaw, ok := obj["type"]
	if !ok {
		return nil, errors.New("part missing type discriminator")
	}
	var kind string
	if err := json.Unmarshal(kindRaw, &kind); err != nil {
		return nil, fmt.Errorf("decode part type: %w", err)
	}
	switch kind {
	case "text":
		var p TextPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode TextPart: %w", err)
		}
		return p, nil
	case "image_ref":
		var p ImageRefPart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ImageRefPart: %w", err)
		}
		return p, nil
	case "tool_use":
		var p ToolUsePart
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode ToolUsePart: %w", err)
		}
		if p.Name == "" {
			return nil, errors.New("ToolUsePart requires name")
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", kind)
	}
}

// MarshalJSON encodes TextPart with its type discriminator.
func (p TextPart) MarshalJSON() ([]byte, error) {
	type alias TextPart
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: "text", alias: alias(p)})
}

// MarshalJSON encodes ImageRefPart with its type discriminator.
func (p ImageRefPart) MarshalJSON() ([]byte, error) {
	type alias ImageRefPart
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: "image_ref", alias: alias(p)})
}

// MarshalJSON encodes ToolUsePart with its type discriminator.
func (p ToolUsePart) MarshalJSON() ([]byte, error) {
	type alias ToolUsePart
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: "tool_use", alias: alias(p)})
}
