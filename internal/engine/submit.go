package engine

import (
	"fmt"
	"strings"

	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// Request is the transport-neutral form of a producer call, decoded from the
// HTTP API body or a TCP EMIT line. Which fields matter depends on Kind.
type Request struct {
	Kind          schema.Kind          `json:"kind"`
	Source        schema.Source        `json:"source,omitempty"`
	AutonomyLevel schema.AutonomyLevel `json:"autonomy_level,omitempty"`

	Command   string `json:"command,omitempty"`
	Operation string `json:"operation,omitempty"`
	Path      string `json:"path,omitempty"`
	URL       string `json:"url,omitempty"`
	Method    string `json:"method,omitempty"`
	AppID     string `json:"app_id,omitempty"`
	AppName   string `json:"app_name,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Model     string `json:"model,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Submit validates req and hands it to the matching producer. A zero
// autonomy level is replaced by def.
func (r *Registry) Submit(req Request, def schema.AutonomyLevel) (schema.ActionRecord, error) {
	level := req.AutonomyLevel
	if level == 0 {
		level = def
	}
	if !level.Valid() {
		return schema.ActionRecord{}, fmt.Errorf("%w: autonomy level %d", ErrInvalidRequest, level)
	}
	if req.Source != "" && !req.Source.Valid() {
		return schema.ActionRecord{}, fmt.Errorf("%w: source %q", ErrInvalidRequest, req.Source)
	}

	switch req.Kind {
	case schema.KindCommand:
		if strings.TrimSpace(req.Command) == "" {
			return schema.ActionRecord{}, fmt.Errorf("%w: command is required", ErrInvalidRequest)
		}
		if req.Source == "" || req.Source == schema.SourceTerminal {
			return r.EmitTerminalAction(schema.KindCommand, req.Command, level), nil
		}
		fields := strings.Fields(req.Command)
		return r.Emit(Draft{
			Kind:             schema.KindCommand,
			Title:            fmt.Sprintf("Run %s", fields[0]),
			Description:      fmt.Sprintf("Executing command: %s", req.Command),
			Payload:          schema.CommandPayload{Command: fields[0], Args: fields[1:]},
			RequiresApproval: RequiresApproval(schema.KindCommand, req.Source, level),
			AutonomyLevel:    level,
			Source:           req.Source,
		}), nil

	case schema.KindApp:
		if req.AppID == "" {
			return schema.ActionRecord{}, fmt.Errorf("%w: app_id is required", ErrInvalidRequest)
		}
		if req.Source == schema.SourceTerminal {
			return r.EmitTerminalAction(schema.KindApp, req.AppID, level), nil
		}
		return r.EmitAppAction(req.AppID, req.AppName, level), nil

	case schema.KindFile:
		if req.Path == "" || req.Operation == "" {
			return schema.ActionRecord{}, fmt.Errorf("%w: operation and path are required", ErrInvalidRequest)
		}
		return r.EmitFileAction(req.Operation, req.Path, sourceOr(req.Source, schema.SourceApp), level), nil

	case schema.KindNetwork:
		if req.URL == "" {
			return schema.ActionRecord{}, fmt.Errorf("%w: url is required", ErrInvalidRequest)
		}
		return r.EmitNetworkAction(req.Method, req.URL, sourceOr(req.Source, schema.SourceApp), level), nil

	case schema.KindAI:
		if req.Prompt == "" {
			return schema.ActionRecord{}, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
		}
		if req.Source == schema.SourceTerminal {
			return r.EmitTerminalAction(schema.KindAI, req.Prompt, level), nil
		}
		return r.EmitAIAction(req.Prompt, req.Model, level), nil

	case schema.KindApprovalRequired:
		if req.Subject == "" {
			return schema.ActionRecord{}, fmt.Errorf("%w: subject is required", ErrInvalidRequest)
		}
		return r.Emit(Draft{
			Kind:             schema.KindApprovalRequired,
			Title:            fmt.Sprintf("Approve %s", req.Subject),
			Description:      req.Reason,
			Payload:          schema.ApprovalPayload{Subject: req.Subject, Reason: req.Reason},
			RequiresApproval: true,
			AutonomyLevel:    level,
			Source:           sourceOr(req.Source, schema.SourceSystem),
		}), nil
	}
	return schema.ActionRecord{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
}

func sourceOr(s, def schema.Source) schema.Source {
	if s == "" {
		return def
	}
	return s
}
