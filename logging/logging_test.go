package logging

import (
	"testing"

	"go.viam.com/test"
)

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("ply")
	sub.Warnw("skipping property", "property", "confidence")
	logger.Debugf("read %d records", 3)

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	entries := logs.FilterMessage("skipping property").All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "ply")
	test.That(t, entries[0].ContextMap()["property"], test.ShouldEqual, "confidence")
}

func TestLevelFromString(t *testing.T) {
	for in, want := range map[string]Level{
		"":      INFO,
		"debug": DEBUG,
		"WARN":  WARN,
		"error": ERROR,
	} {
		got, err := LevelFromString(in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOrBlank(t *testing.T) {
	logger := OrBlank(nil)
	test.That(t, logger, test.ShouldNotBeNil)
	logger.Infow("dropped")

	named := NewBlankLogger("codec")
	test.That(t, OrBlank(named), test.ShouldEqual, named)
}
