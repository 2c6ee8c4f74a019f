package keyword

import (
	"testing"
	"time"

	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/config"
)

func TestFromConfig_Defaults(t *testing.T) {
	bindings, err := FromConfig(config.DefaultBindings())
	if err != nil {
		t.Fatalf("FromConfig(DefaultBindings()): %v", err)
	}
	if len(bindings) == 0 {
		t.Fatal("expected bindings")
	}

	var draw *Binding
	for i := range bindings {
		if bindings[i].Keyword == "draw" {
			draw = &bindings[i]
		}
	}
	if draw == nil {
		t.Fatal("default bindings missing draw")
	}
	if draw.Capability != capability.Image {
		t.Errorf("draw capability = %q, want image", draw.Capability)
	}
	if draw.ParameterMode != ModeImplicit {
		t.Errorf("draw mode = %v, want implicit", draw.ParameterMode)
	}
	if draw.Timeout != 300*time.Second {
		t.Errorf("draw timeout = %v, want 5m", draw.Timeout)
	}
}

func TestFromConfig_UnknownCapability(t *testing.T) {
	_, err := FromConfig([]config.BindingConfig{
		{Keyword: "oops", Capability: "telepathy"},
	})
	if err == nil {
		t.Fatal("expected error for unknown capability")
	}
}

func TestFromConfig_ReservedForcedStandalone(t *testing.T) {
	bindings, err := FromConfig([]config.BindingConfig{
		{Keyword: "help", Capability: "chat", Description: "custom help"},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if !bindings[0].Reserved {
		t.Error("help binding must be reserved regardless of config")
	}
}

func TestParseParameterMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ParameterMode
		wantErr bool
	}{
		{"", ModeExplicit, false},
		{"explicit", ModeExplicit, false},
		{"Implicit", ModeImplicit, false},
		{"MIXED", ModeMixed, false},
		{"telepathic", ModeExplicit, true},
	}
	for _, tt := range tests {
		got, err := ParseParameterMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseParameterMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseParameterMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParameterMode_PrefersInference(t *testing.T) {
	if ModeExplicit.PrefersInference() {
		t.Error("explicit should not prefer inference")
	}
	if !ModeImplicit.PrefersInference() || !ModeMixed.PrefersInference() {
		t.Error("implicit and mixed should prefer inference")
	}
}
