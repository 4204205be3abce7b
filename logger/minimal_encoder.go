package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Everforest palette (the only console theme)
const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"

	colorFg       = "\x1b[38;5;223m"
	colorGreen    = "\x1b[38;5;108m"
	colorGreenMid = "\x1b[38;5;107m"
	colorAqua     = "\x1b[38;5;109m"
	colorOrange   = "\x1b[38;5;208m"
	colorYellow   = "\x1b[38;5;179m"
	colorRed      = "\x1b[38;5;167m"
	colorRedBg    = "\x1b[48;5;52m"
	colorYellowBg = "\x1b[48;5;58m"
)

var bufferPool = buffer.NewPool()

// idKeys are rendered in the ID color; everything else in the default color.
var idKeys = map[string]bool{
	FieldRunID: true,
	FieldJobID: true,
	FieldSeed:  true,
	FieldStore: true,
}

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  pulse  Job finished  seed=seg_0 state=done"
//
// Context fields added with logger.With are collected in the embedded map encoder
// and rendered before the entry's own fields.
type minimalEncoder struct {
	*zapcore.MapObjectEncoder
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range enc.Fields {
		clone.Fields[k] = v
	}
	return &minimalEncoder{MapObjectEncoder: clone}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorGreenMid)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	if ent.Level != zapcore.InfoLevel {
		final.AppendString("  ")
		final.AppendString(levelColorString(ent.Level))
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorOrange)
		final.AppendString(ent.LoggerName)
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorFg)
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	entryFields := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(entryFields)
	}

	if rendered := renderFields(enc.Fields, entryFields.Fields); rendered != "" {
		final.AppendString("  ")
		final.AppendString(rendered)
	}

	final.AppendString("\n")
	return final, nil
}

// levelColorString returns bold + colored + background for non-info levels
func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.DebugLevel:
		return colorAqua + "DEBUG" + colorReset
	case zapcore.WarnLevel:
		return colorBold + colorYellowBg + colorYellow + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + colorRedBg + colorRed + "ERROR" + colorReset
	default:
		return colorBold + colorRedBg + colorRed + level.CapitalString() + colorReset
	}
}

// renderFields prints context fields then entry fields as key=value pairs.
// No field is ever dropped.
func renderFields(context, entry map[string]interface{}) string {
	var parts []string
	for _, m := range []map[string]interface{}{context, entry} {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			color := colorFg
			if idKeys[k] {
				color = colorAqua
			} else if k == FieldError {
				color = colorRed
			} else if k == FieldState {
				color = colorGreen
			}
			parts = append(parts, fmt.Sprintf("%s=%s%v%s", k, color, m[k], colorReset))
		}
	}
	return strings.Join(parts, " ")
}
