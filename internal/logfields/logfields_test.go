package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Project", KeyProject, "/p/demo.eez-project", Project("/p/demo.eez-project")},
		{"BuildID", KeyBuildID, "b1", BuildID("b1")},
		{"Phase", KeyPhase, "extract", Phase("extract")},
		{"SetupMode", KeySetupMode, "incremental", SetupMode("incremental")},
		{"Command", KeyCommand, "docker ps", Command("docker ps")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"File", KeyFile, "ui.c", File("ui.c")},
		{"URL", KeyURL, "http://127.0.0.1:1", URL("http://127.0.0.1:1")},
		{"Method", KeyMethod, "GET", Method("GET")},
		{"Subject", KeySubject, "simbuild.build", Subject("simbuild.build")},
		{"Repository", KeyRepo, "repo1", Repository("repo1")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

func TestContainerIDIsShortened(t *testing.T) {
	long := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	if got := ContainerID(long).Value.String(); got != "0123456789ab" {
		t.Fatalf("expected short id, got %s", got)
	}
	if got := ContainerID("abc").Value.String(); got != "abc" {
		t.Fatalf("expected id unchanged, got %s", got)
	}
}

// TestNumericHelpers verifies keys for numeric helpers.
func TestNumericHelpers(t *testing.T) {
	if v := PID(42); v.Key != KeyPID || v.Value.Int64() != 42 {
		t.Fatalf("PID mismatch: %v", v)
	}
	if v := ExitCode(2); v.Key != KeyExitCode {
		t.Fatalf("ExitCode key mismatch: %s", v.Key)
	}
	if v := Status(200); v.Key != KeyStatus {
		t.Fatalf("Status key mismatch: %s", v.Key)
	}
	if v := Size(1024); v.Key != KeySize {
		t.Fatalf("Size key mismatch: %s", v.Key)
	}
	if v := Count(3); v.Key != KeyCount {
		t.Fatalf("Count key mismatch: %s", v.Key)
	}
	if v := Duration(1500 * time.Microsecond); v.Key != KeyDurationMS || v.Value.Float64() != 1.5 {
		t.Fatalf("Duration mismatch: %v", v)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError || attr.Value.String() != "" {
		t.Fatalf("unexpected nil error attr: %v", attr)
	}
	attr = Error(errors.New("err-test"))
	if attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}
