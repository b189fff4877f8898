package agent

import (
	"encoding/json"
	"fmt"
	"time"
)

// runStateDTO is the JSON-safe projection of AgentRunState: every
// interface-typed field (InputItem, ContentPart, Payload) is replaced by
// a discriminated envelope so encoding/json can round-trip it.
type runStateDTO struct {
	ContextItems []itemEnvelope   `json:"context_items"`
	LastResponse *CompletionChunk `json:"last_response,omitempty"`
	Executions   []executionDTO   `json:"executions,omitempty"`
	TurnIndex    int              `json:"turn_index"`
	PendingCall  ToolCall         `json:"pending_call"`
}

type executionDTO struct {
	Call     ToolCall      `json:"call"`
	Output   toolOutputDTO `json:"output"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
}

type toolOutputDTO struct {
	Payload payloadEnvelope `json:"payload"`
	IsError bool            `json:"is_error,omitempty"`
}

type itemEnvelope struct {
	Kind    string           `json:"kind"`
	Role    Role             `json:"role,omitempty"`
	Content []partEnvelope   `json:"content,omitempty"`
	CallID  string           `json:"call_id,omitempty"`
	Payload *payloadEnvelope `json:"payload,omitempty"`
	IsError bool             `json:"is_error,omitempty"`
}

type partEnvelope struct {
	Kind   string      `json:"kind"`
	Text   string      `json:"text,omitempty"`
	URL    string      `json:"url,omitempty"`
	Base64 string      `json:"base64,omitempty"`
	Detail ImageDetail `json:"detail,omitempty"`
}

type payloadEnvelope struct {
	Kind   string          `json:"kind"`
	Text   string          `json:"text,omitempty"`
	URL    string          `json:"url,omitempty"`
	Base64 string          `json:"base64,omitempty"`
	JSON   json.RawMessage `json:"json,omitempty"`
}

func encodePart(p ContentPart) partEnvelope {
	switch v := p.(type) {
	case TextPart:
		return partEnvelope{Kind: "text", Text: v.Text}
	case ImagePart:
		return partEnvelope{Kind: "image", URL: v.URL, Base64: v.Base64, Detail: v.Detail}
	default:
		return partEnvelope{}
	}
}

func decodePart(e partEnvelope) (ContentPart, error) {
	switch e.Kind {
	case "text":
		return TextPart{Text: e.Text}, nil
	case "image":
		return ImagePart{URL: e.URL, Base64: e.Base64, Detail: e.Detail}, nil
	default:
		return nil, fmt.Errorf("agent: unknown content part kind %q", e.Kind)
	}
}

func encodePayload(p Payload) payloadEnvelope {
	switch v := p.(type) {
	case TextPayload:
		return payloadEnvelope{Kind: "text", Text: v.Text}
	case ImagePayload:
		return payloadEnvelope{Kind: "image", URL: v.URL, Base64: v.Base64}
	case StructuredPayload:
		return payloadEnvelope{Kind: "structured", JSON: v.JSON}
	default:
		return payloadEnvelope{}
	}
}

func decodePayload(e payloadEnvelope) (Payload, error) {
	switch e.Kind {
	case "text":
		return TextPayload{Text: e.Text}, nil
	case "image":
		return ImagePayload{URL: e.URL, Base64: e.Base64}, nil
	case "structured":
		return StructuredPayload{JSON: e.JSON}, nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("agent: unknown payload kind %q", e.Kind)
	}
}

func encodeItem(item InputItem) (itemEnvelope, error) {
	switch v := item.(type) {
	case Message:
		parts := make([]partEnvelope, len(v.Content))
		for i, c := range v.Content {
			parts[i] = encodePart(c)
		}
		return itemEnvelope{Kind: "message", Role: v.Role, Content: parts}, nil
	case ToolCallOutput:
		pe := encodePayload(v.Payload)
		return itemEnvelope{Kind: "tool_call_output", CallID: v.CallID, Payload: &pe, IsError: v.IsError}, nil
	default:
		return itemEnvelope{}, fmt.Errorf("agent: unknown context item type %T", item)
	}
}

func decodeItem(e itemEnvelope) (InputItem, error) {
	switch e.Kind {
	case "message":
		parts := make([]ContentPart, len(e.Content))
		for i, pe := range e.Content {
			p, err := decodePart(pe)
			if err != nil {
				return nil, err
			}
			parts[i] = p
		}
		return Message{Role: e.Role, Content: parts}, nil
	case "tool_call_output":
		var payload Payload
		if e.Payload != nil {
			p, err := decodePayload(*e.Payload)
			if err != nil {
				return nil, err
			}
			payload = p
		}
		return ToolCallOutput{CallID: e.CallID, Payload: payload, IsError: e.IsError}, nil
	default:
		return nil, fmt.Errorf("agent: unknown context item kind %q", e.Kind)
	}
}

// MarshalJSON implements json.Marshaler, encoding every interface-typed
// field through a discriminated envelope so a paused AgentRunState can be
// persisted outside the process (§6: RunState must be JSON
// round-trippable) and later signed as a token.
func (s *AgentRunState) MarshalJSON() ([]byte, error) {
	items := make([]itemEnvelope, len(s.ContextItems))
	for i, it := range s.ContextItems {
		e, err := encodeItem(it)
		if err != nil {
			return nil, err
		}
		items[i] = e
	}

	executions := make([]executionDTO, len(s.Executions))
	for i, ex := range s.Executions {
		executions[i] = executionDTO{
			Call:     ex.Call,
			Output:   toolOutputDTO{Payload: encodePayload(ex.Output.Payload), IsError: ex.Output.IsError},
			Started:  ex.Started,
			Finished: ex.Finished,
		}
	}

	return json.Marshal(runStateDTO{
		ContextItems: items,
		LastResponse: s.LastResponse,
		Executions:   executions,
		TurnIndex:    s.TurnIndex,
		PendingCall:  s.PendingCall,
	})
}

// UnmarshalJSON implements json.Unmarshaler, the inverse of MarshalJSON.
// A freshly decoded state is, by construction, not yet resumed.
func (s *AgentRunState) UnmarshalJSON(data []byte) error {
	var dto runStateDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}

	items := make([]InputItem, len(dto.ContextItems))
	for i, e := range dto.ContextItems {
		it, err := decodeItem(e)
		if err != nil {
			return err
		}
		items[i] = it
	}

	executions := make([]Execution, len(dto.Executions))
	for i, ex := range dto.Executions {
		payload, err := decodePayload(ex.Output.Payload)
		if err != nil {
			return err
		}
		executions[i] = Execution{
			Call:     ex.Call,
			Output:   ToolOutput{Payload: payload, IsError: ex.Output.IsError},
			Started:  ex.Started,
			Finished: ex.Finished,
		}
	}

	s.ContextItems = items
	s.LastResponse = dto.LastResponse
	s.Executions = executions
	s.TurnIndex = dto.TurnIndex
	s.PendingCall = dto.PendingCall
	s.resumed = false
	return nil
}
