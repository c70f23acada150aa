package engine

import (
	"fmt"
	"strings"

	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// EmitTerminalAction records a command, app or ai action typed into the terminal.
// Other kinds are recorded as commands.
//
// Producers clamp levels outside 1..4 to the nearest valid level before the
// gating policy runs.
func (r *Registry) EmitTerminalAction(kind schema.Kind, input string, level schema.AutonomyLevel) schema.ActionRecord {
	level = level.Clamp()
	fields := strings.Fields(input)
	var payload schema.Payload
	var description string
	switch kind {
	case schema.KindAI:
		payload = schema.AIPayload{Prompt: input}
		description = "AI processing request"
	case schema.KindApp:
		app := input
		var args []string
		if len(fields) > 0 {
			app, args = fields[0], fields[1:]
		}
		payload = schema.AppPayload{AppID: app, AppName: app, Args: args}
		description = fmt.Sprintf("Launching application %s", app)
	default:
		kind = schema.KindCommand
		p := schema.CommandPayload{Command: input}
		if len(fields) > 1 {
			p.Command, p.Args = fields[0], fields[1:]
		}
		payload = p
		description = fmt.Sprintf("Executing command: %s", input)
	}

	return r.Emit(Draft{
		Kind:             kind,
		Title:            fmt.Sprintf("Terminal: %s", input),
		Description:      description,
		Payload:          payload,
		RequiresApproval: RequiresApproval(kind, schema.SourceTerminal, level),
		AutonomyLevel:    level,
		Source:           schema.SourceTerminal,
	})
}

// EmitAppAction records an application launch requested by another app.
func (r *Registry) EmitAppAction(appID, appName string, level schema.AutonomyLevel) schema.ActionRecord {
	level = level.Clamp()
	if appName == "" {
		appName = appID
	}
	return r.Emit(Draft{
		Kind:             schema.KindApp,
		Title:            fmt.Sprintf("Open %s", appName),
		Description:      fmt.Sprintf("Launching application %s", appName),
		Payload:          schema.AppPayload{AppID: appID, AppName: appName},
		RequiresApproval: RequiresApproval(schema.KindApp, schema.SourceApp, level),
		AutonomyLevel:    level,
		Source:           schema.SourceApp,
	})
}

// EmitFileAction records a file operation such as read, write or delete.
func (r *Registry) EmitFileAction(operation, path string, source schema.Source, level schema.AutonomyLevel) schema.ActionRecord {
	level = level.Clamp()
	return r.Emit(Draft{
		Kind:             schema.KindFile,
		Title:            fmt.Sprintf("File %s", operation),
		Description:      fmt.Sprintf("%s %s", capitalize(operation), path),
		Payload:          schema.FilePayload{Operation: operation, Filepath: path},
		RequiresApproval: RequiresApproval(schema.KindFile, source, level),
		AutonomyLevel:    level,
		Source:           source,
	})
}

// EmitNetworkAction records an outbound request.
func (r *Registry) EmitNetworkAction(method, url string, source schema.Source, level schema.AutonomyLevel) schema.ActionRecord {
	level = level.Clamp()
	method = strings.ToUpper(method)
	if method == "" {
		method = "GET"
	}
	return r.Emit(Draft{
		Kind:             schema.KindNetwork,
		Title:            fmt.Sprintf("Network %s", method),
		Description:      fmt.Sprintf("%s request to %s", method, url),
		Payload:          schema.NetworkPayload{URL: url, Method: method},
		RequiresApproval: RequiresApproval(schema.KindNetwork, source, level),
		AutonomyLevel:    level,
		Source:           source,
	})
}

// EmitAIAction records a model step initiated by the system.
func (r *Registry) EmitAIAction(prompt, model string, level schema.AutonomyLevel) schema.ActionRecord {
	level = level.Clamp()
	return r.Emit(Draft{
		Kind:             schema.KindAI,
		Title:            "AI thinking",
		Description:      truncate(prompt, 80),
		Payload:          schema.AIPayload{Prompt: prompt, Model: model},
		RequiresApproval: RequiresApproval(schema.KindAI, schema.SourceSystem, level),
		AutonomyLevel:    level,
		Source:           schema.SourceSystem,
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
