package logger

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// verikitEncoder renders entries as "HH:MM:SS level domain message" with any
// structured fields indented on a continuation line. Info entries drop their
// fields because they double as regular user-facing output.
type verikitEncoder struct {
	// The embedded encoder only ever sees fields. All entry keys are left
	// unset so it never re-renders the time, level or logger name.
	zapcore.Encoder
}

func newEncoder() *verikitEncoder {
	return &verikitEncoder{Encoder: zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
	})}
}

func (e *verikitEncoder) Clone() zapcore.Encoder {
	return &verikitEncoder{Encoder: e.Encoder.Clone()}
}

func (e *verikitEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := pool.Get()

	fmt.Fprintf(
		line,
		"%s %s %-*s %s",
		ent.Time.Format("15:04:05"),
		levelToColor[ent.Level].Sprintf("%-7s", ent.Level),
		domainColumnWidth,
		ent.LoggerName,
		ent.Message,
	)

	if ent.Level == zapcore.InfoLevel || len(fields) == 0 {
		line.AppendByte('\n')
		return line, nil
	}

	b, err := e.Encoder.EncodeEntry(zapcore.Entry{}, fields)
	if err != nil {
		return nil, err
	}
	if fs := bytes.TrimSpace(b.Bytes()); len(fs) > 0 {
		line.AppendString(fieldIndent)
		_, _ = line.Write(fs)
	}
	b.Free()
	line.AppendByte('\n')
	return line, nil
}

var (
	pool = buffer.NewPool()

	levelToColor = map[zapcore.Level]*color.Color{
		zapcore.DPanicLevel: color.New(color.FgHiRed),
		zapcore.PanicLevel:  color.New(color.FgHiRed),
		zapcore.FatalLevel:  color.New(color.FgRed),
		zapcore.ErrorLevel:  color.New(color.FgRed),
		zapcore.WarnLevel:   color.New(color.FgYellow),
		zapcore.InfoLevel:   color.New(color.FgBlue),
		zapcore.DebugLevel:  color.New(color.FgMagenta),
	}

	domainColumnWidth int
	fieldIndent       string
)

func init() {
	for n := range domainFromString {
		if domainColumnWidth < len(n) {
			domainColumnWidth = len(n)
		}
	}
	// Continuation lines align with the message column: 8 characters of
	// timestamp, 7 of level and the domain column, each followed by a space.
	fieldIndent = "\n" + strings.Repeat(" ", 8+1+7+1+domainColumnWidth+1)
}
