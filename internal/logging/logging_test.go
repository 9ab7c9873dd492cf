package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfigureRoutesOutput(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf)
	defer Configure(nil)

	Infof("hello %d", 42)

	if !strings.Contains(buf.String(), "INFO hello 42") {
		t.Fatalf("expected formatted INFO line, got %q", buf.String())
	}
}

func TestConfigureNilDisablesOutput(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf)
	Configure(nil)

	Errorf("should not appear")

	if buf.Len() != 0 {
		t.Fatalf("expected no output once disabled, got %q", buf.String())
	}
}

func TestOpenStdoutStderr(t *testing.T) {
	for _, name := range []string{"", "stdout", "stderr"} {
		closer, err := Open(name)
		if err != nil {
			t.Fatalf("Open(%q): %v", name, err)
		}
		if closer != nil {
			t.Fatalf("Open(%q) should not return a closer", name)
		}
	}
}
