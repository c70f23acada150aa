package engine

import "github.com/llmos-dev/llmos-actions/pkg/schema"

// RequiresApproval is the gating policy. Producers call it before Emit; the
// registry itself never decides.
//
//   - ai actions never need approval
//   - file and network actions need approval at levels 1 and 2, from any source
//   - terminal command and app actions need approval only at level 2
//
// Every other combination runs without approval.
func RequiresApproval(kind schema.Kind, source schema.Source, level schema.AutonomyLevel) bool {
	switch kind {
	case schema.KindAI:
		return false
	case schema.KindFile, schema.KindNetwork:
		return level <= schema.LevelGuarded
	case schema.KindCommand, schema.KindApp:
		return source == schema.SourceTerminal && level == schema.LevelGuarded
	}
	return false
}
