package fab

// CommandKind enumerates the side effects a state machine may request.
type CommandKind string

const (
	CmdSetField   CommandKind = "set_field"
	CmdClearField CommandKind = "clear_field"
)

// Command is one post-transition side effect. Machines return them; the
// orchestrator executes them as part of a single batch write.
type Command struct {
	Kind  CommandKind
	Field Field
	Value any
}

func SetField(f Field, v any) Command { return Command{Kind: CmdSetField, Field: f, Value: v} }
func ClearField(f Field) Command      { return Command{Kind: CmdClearField, Field: f} }

// Updates converts commands into field updates for a row store batch.
func Updates(cmds []Command) []FieldUpdate {
	out := make([]FieldUpdate, 0, len(cmds))
	for _, c := range cmds {
		switch c.Kind {
		case CmdClearField:
			out = append(out, Clear(c.Field))
		default:
			out = append(out, Set(c.Field, c.Value))
		}
	}
	return out
}

// Touches reports whether any command writes f.
func Touches(cmds []Command, f Field) bool {
	for _, c := range cmds {
		if c.Field == f {
			return true
		}
	}
	return false
}
