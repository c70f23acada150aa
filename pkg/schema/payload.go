package schema

import (
	"encoding/json"
	"fmt"
)

// Outcome is the extension attached to a payload when an action finishes.
// Result is set on completion, Error on failure and RejectionReason when an
// approval is denied.
type Outcome struct {
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// IsZero reports whether no outcome field is set.
func (o Outcome) IsZero() bool {
	return o.Result == nil && o.Error == "" && o.RejectionReason == ""
}

// merge extends o with the non-empty fields of next.
func (o Outcome) merge(next Outcome) Outcome {
	if next.Result != nil {
		o.Result = next.Result
	}
	if next.Error != "" {
		o.Error = next.Error
	}
	if next.RejectionReason != "" {
		o.RejectionReason = next.RejectionReason
	}
	return o
}

func (o Outcome) clone() Outcome {
	o.Result = cloneValue(o.Result)
	return o
}

// Payload is the kind-specific parameter set of an action.
// Implementations are value types; Extend returns a modified copy and Clone
// returns a copy that shares no slices or maps with the receiver.
type Payload interface {
	Kind() Kind
	Extension() Outcome
	Extend(Outcome) Payload
	Clone() Payload
}

// CommandPayload describes a shell command issued from the terminal.
type CommandPayload struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Outcome
}

func (p CommandPayload) Kind() Kind         { return KindCommand }
func (p CommandPayload) Extension() Outcome { return p.Outcome }
func (p CommandPayload) Extend(o Outcome) Payload {
	p.Outcome = p.Outcome.merge(o)
	return p
}
func (p CommandPayload) Clone() Payload {
	p.Args = cloneStrings(p.Args)
	p.Outcome = p.Outcome.clone()
	return p
}

// FilePayload describes a file system operation.
type FilePayload struct {
	Operation string `json:"operation"`
	Filepath  string `json:"filepath"`
	Content   string `json:"content,omitempty"`
	Outcome
}

func (p FilePayload) Kind() Kind         { return KindFile }
func (p FilePayload) Extension() Outcome { return p.Outcome }
func (p FilePayload) Extend(o Outcome) Payload {
	p.Outcome = p.Outcome.merge(o)
	return p
}
func (p FilePayload) Clone() Payload {
	p.Outcome = p.Outcome.clone()
	return p
}

// AppPayload describes launching or driving an application.
type AppPayload struct {
	AppID   string   `json:"app_id"`
	AppName string   `json:"app_name,omitempty"`
	Args    []string `json:"args,omitempty"`
	Outcome
}

func (p AppPayload) Kind() Kind         { return KindApp }
func (p AppPayload) Extension() Outcome { return p.Outcome }
func (p AppPayload) Extend(o Outcome) Payload {
	p.Outcome = p.Outcome.merge(o)
	return p
}
func (p AppPayload) Clone() Payload {
	p.Args = cloneStrings(p.Args)
	p.Outcome = p.Outcome.clone()
	return p
}

// NetworkPayload describes an outbound network call.
type NetworkPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Outcome
}

func (p NetworkPayload) Kind() Kind         { return KindNetwork }
func (p NetworkPayload) Extension() Outcome { return p.Outcome }
func (p NetworkPayload) Extend(o Outcome) Payload {
	p.Outcome = p.Outcome.merge(o)
	return p
}
func (p NetworkPayload) Clone() Payload {
	if p.Headers != nil {
		headers := make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			headers[k] = v
		}
		p.Headers = headers
	}
	p.Outcome = p.Outcome.clone()
	return p
}

// AIPayload describes a model "thinking" step.
type AIPayload struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	Outcome
}

func (p AIPayload) Kind() Kind         { return KindAI }
func (p AIPayload) Extension() Outcome { return p.Outcome }
func (p AIPayload) Extend(o Outcome) Payload {
	p.Outcome = p.Outcome.merge(o)
	return p
}
func (p AIPayload) Clone() Payload {
	p.Outcome = p.Outcome.clone()
	return p
}

// ApprovalPayload is a free-standing request for a human decision.
type ApprovalPayload struct {
	Subject string `json:"subject"`
	Reason  string `json:"reason,omitempty"`
	Outcome
}

func (p ApprovalPayload) Kind() Kind         { return KindApprovalRequired }
func (p ApprovalPayload) Extension() Outcome { return p.Outcome }
func (p ApprovalPayload) Extend(o Outcome) Payload {
	p.Outcome = p.Outcome.merge(o)
	return p
}
func (p ApprovalPayload) Clone() Payload {
	p.Outcome = p.Outcome.clone()
	return p
}

// DecodePayload unmarshals raw into the payload variant for kind.
// An empty or null raw value yields the zero variant.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindCommand:
		var v CommandPayload
		if err := unmarshalOptional(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindFile:
		var v FilePayload
		if err := unmarshalOptional(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindApp:
		var v AppPayload
		if err := unmarshalOptional(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindNetwork:
		var v NetworkPayload
		if err := unmarshalOptional(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindAI:
		var v AIPayload
		if err := unmarshalOptional(raw, &v); err != nil {
			return nil, err
		}
		p = v
	case KindApprovalRequired:
		var v ApprovalPayload
		if err := unmarshalOptional(raw, &v); err != nil {
			return nil, err
		}
		p = v
	default:
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}
	return p, nil
}

func unmarshalOptional(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// cloneValue copies the maps and slices of a JSON-shaped value. Other values
// are returned as is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return cloneStrings(t)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	}
	return v
}
