package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestPionFactoryScopesAndQuietsInfo(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev; zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	l := PionFactory{}.NewLogger("ice")
	l.Infof("gathering %d", 3)
	l.Warn("slow")

	out := buf.String()
	if strings.Contains(out, "gathering") {
		t.Fatalf("info should be demoted to trace: %s", out)
	}
	if !strings.Contains(out, `"module":"pion.ice"`) || !strings.Contains(out, "slow") {
		t.Fatalf("missing warn line: %s", out)
	}

	buf.Reset()
	PionFactory{Verbose: true}.NewLogger("ice").Info("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("verbose factory should keep info: %s", buf.String())
	}
}
