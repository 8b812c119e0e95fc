package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitWriter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := InitWriter(buf, "debug", "json"); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { logrus.SetLevel(logrus.InfoLevel) })

	New("store").WithField("owner_id", "u1").Debug("partition loaded")

	out := buf.String()
	for _, want := range []string{`"component":"store"`, `"owner_id":"u1"`, `"message":"partition loaded"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %q", want, out)
		}
	}
}

func TestInitWriter_Errors(t *testing.T) {
	if err := InitWriter(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("expected error for bad level")
	}
	if err := InitWriter(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for bad format")
	}
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test-span")
	defer span.End()
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
}
