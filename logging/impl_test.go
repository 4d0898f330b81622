package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"
)

func newBufferLogger(name string, level Level) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return newImpl(name, level, true, NewWriterAppender(buf)), buf
}

func TestConsoleAppenderFormat(t *testing.T) {
	logger, buf := newBufferLogger("solver", DEBUG)
	logger.Debugw("iteration", "cost", 1.5, "accepted", true)

	line := strings.TrimSuffix(buf.String(), "\n")
	parts := strings.Split(line, "\t")
	test.That(t, parts, test.ShouldHaveLength, 6)
	test.That(t, parts[1], test.ShouldEqual, "DEBUG")
	test.That(t, parts[2], test.ShouldEqual, "solver")
	test.That(t, parts[3], test.ShouldContainSubstring, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "iteration")

	fields := map[string]interface{}{}
	test.That(t, json.Unmarshal([]byte(parts[5]), &fields), test.ShouldBeNil)
	test.That(t, fields["cost"], test.ShouldEqual, 1.5)
	test.That(t, fields["accepted"], test.ShouldEqual, true)
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger("solver", WARN)
	logger.Infow("dropped")
	logger.Debugw("dropped", "n", 1)
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Warnw("kept", "n", 2)
	test.That(t, buf.String(), test.ShouldContainSubstring, "kept")
	test.That(t, buf.String(), test.ShouldContainSubstring, `{"n":2}`)

	logger.SetLevel(INFO)
	logger.Infow("now kept")
	test.That(t, buf.String(), test.ShouldContainSubstring, "now kept")
	logger.Debugw("still dropped")
	test.That(t, buf.String(), test.ShouldNotContainSubstring, "still dropped")
}

func TestUnpairedKey(t *testing.T) {
	logger, buf := newBufferLogger("", DEBUG)
	logger.Infow("msg", "cost", 3, "lonely")
	test.That(t, buf.String(), test.ShouldContainSubstring, `"cost":3`)
	test.That(t, buf.String(), test.ShouldContainSubstring, `"lonely":"unpaired log key"`)
}

func TestUTCTimestamps(t *testing.T) {
	logger, buf := newBufferLogger("", DEBUG)
	logger.Infow("msg")
	stamp := strings.Split(buf.String(), "\t")[0]
	ts, err := time.Parse(DefaultTimeFormatStr, stamp)
	test.That(t, err, test.ShouldBeNil)
	_, offset := ts.Zone()
	test.That(t, offset, test.ShouldEqual, 0)
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	sub := logger.Sublogger("lm")
	subsub := sub.Sublogger("schur")

	sub.Infow("accepted step", "rho", 0.75)
	subsub.Warnw("bad block", "block", 3)

	entries := observed.All()
	test.That(t, entries, test.ShouldHaveLength, 2)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "lm")
	test.That(t, entries[0].ContextMap()["rho"], test.ShouldEqual, 0.75)
	test.That(t, entries[1].LoggerName, test.ShouldEqual, "lm.schur")
	test.That(t, entries[1].Message, test.ShouldEqual, "bad block")
	test.That(t, entries[1].ContextMap()["block"], test.ShouldEqual, int64(3))

	// a sublogger takes its parent's level when created and keeps its own afterwards
	sub.SetLevel(WARN)
	sub.Infow("dropped")
	logger.Infow("kept")
	test.That(t, observed.FilterMessage("dropped").Len(), test.ShouldEqual, 0)
	test.That(t, observed.FilterMessage("kept").Len(), test.ShouldEqual, 1)
	test.That(t, logger.Sync(), test.ShouldBeNil)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		input    string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.input)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}
