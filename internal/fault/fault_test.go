package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	base := errors.New("camera timeout")
	err := fmt.Errorf("shot 2: %w", HardwareErr("capture", base))

	if !Is(err, Hardware) {
		t.Error("expected wrapped error to be a Hardware fault")
	}
	if Is(err, Resource) {
		t.Error("Hardware fault should not match Resource")
	}
	if !errors.Is(err, base) {
		t.Error("underlying error should remain reachable via errors.Is")
	}
}

func TestFatal(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"hardware", HardwareErr("capture", errors.New("x")), false},
		{"resource", ResourceErr("asset", errors.New("missing")), true},
		{"config", Configf("same directory %q", "/tmp"), true},
		{"plain", errors.New("unexpected"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Fatal(tc.err); got != tc.want {
				t.Errorf("Fatal(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := ResourceErr("load overlay intro.png", errors.New("no such file"))
	want := "resource error: load overlay intro.png: no such file"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKind_String(t *testing.T) {
	if Configuration.String() != "configuration" {
		t.Errorf("Configuration.String() = %q", Configuration.String())
	}
	if Kind(42).String() != "kind(42)" {
		t.Errorf("unknown kind String() = %q", Kind(42).String())
	}
}
