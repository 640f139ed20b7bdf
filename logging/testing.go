package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the time format used by test output.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// testCore writes entries through tb.Log so that parallel tests get their own lines.
type testCore struct {
	zapcore.LevelEnabler
	tb     testing.TB
	fields []zapcore.Field
}

func newTestCore(tb testing.TB) zapcore.Core {
	return &testCore{LevelEnabler: zapcore.DebugLevel, tb: tb}
}

func (tc *testCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(tc.fields)+len(fields))
	merged = append(merged, tc.fields...)
	merged = append(merged, fields...)
	return &testCore{LevelEnabler: tc.LevelEnabler, tb: tc.tb, fields: merged}
}

func (tc *testCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if tc.Enabled(entry.Level) {
		return checked.AddCore(entry, tc)
	}
	return checked
}

func (tc *testCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tc.tb.Helper()
	toPrint := []string{
		entry.Time.Format(DefaultTimeFormatStr),
		strings.ToUpper(entry.Level.String()),
		entry.LoggerName,
		entry.Message,
	}
	all := append(append([]zapcore.Field{}, tc.fields...), fields...)
	if len(all) == 0 {
		tc.tb.Log(strings.Join(toPrint, "\t"))
		return nil
	}

	// Use zap's json encoder which will encode our slice of fields in-order.
	jsonEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{SkipLineEnding: true})
	buf, err := jsonEncoder.EncodeEntry(zapcore.Entry{}, all)
	if err != nil {
		tc.tb.Log(strings.Join(toPrint, "\t"))
		return err
	}
	toPrint = append(toPrint, buf.String())
	tc.tb.Log(strings.Join(toPrint, "\t"))
	return nil
}

// Sync is a no-op.
func (tc *testCore) Sync() error {
	return nil
}
