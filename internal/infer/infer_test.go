package infer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/keyword"
	"github.com/moxley/arbiter/internal/llm"
)

type fakeClient struct {
	reply   string
	err     error
	lastReq llm.GenerateRequest
}

func (f *fakeClient) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResponse{Text: f.reply}, nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

var drawBinding = keyword.Binding{
	Keyword:     "draw",
	Capability:  capability.Image,
	Description: "generate an image from a text prompt",
}

func TestInferSuccess(t *testing.T) {
	fc := &fakeClient{reply: "a cat in space"}
	inf := New(fc, nil)

	got, ok := inf.Infer(context.Background(), drawBinding, "draw a cat in space", nil)
	if !ok {
		t.Fatal("expected successful inference")
	}
	if got != "a cat in space" {
		t.Errorf("got %q, want %q", got, "a cat in space")
	}
	if !strings.Contains(fc.lastReq.Prompt, "draw a cat in space") {
		t.Error("prompt should carry the raw content")
	}
	if !strings.Contains(fc.lastReq.Prompt, drawBinding.Description) {
		t.Error("prompt should carry the binding description")
	}
}

func TestInferPassesHistory(t *testing.T) {
	fc := &fakeClient{reply: "the eiffel tower"}
	inf := New(fc, nil)

	history := []llm.Message{{Role: llm.RoleUser, Content: "look at the eiffel tower"}}
	_, ok := inf.Infer(context.Background(), drawBinding, "draw that", history)
	if !ok {
		t.Fatal("expected successful inference")
	}
	if len(fc.lastReq.History) != 1 {
		t.Errorf("got %d history turns, want 1", len(fc.lastReq.History))
	}
}

func TestInferBackendError(t *testing.T) {
	fc := &fakeClient{err: errors.New("endpoint down")}
	inf := New(fc, nil)

	if _, ok := inf.Infer(context.Background(), drawBinding, "draw a cat", nil); ok {
		t.Error("backend failure should report not inferred")
	}
}

func TestInferNoneSentinel(t *testing.T) {
	for _, reply := range []string{"NONE", "none", " None ", `"NONE"`} {
		fc := &fakeClient{reply: reply}
		inf := New(fc, nil)
		if _, ok := inf.Infer(context.Background(), drawBinding, "draw", nil); ok {
			t.Errorf("reply %q should report not inferred", reply)
		}
	}
}

func TestInferEmptyReply(t *testing.T) {
	for _, reply := range []string{"", "   ", "\n\n"} {
		fc := &fakeClient{reply: reply}
		inf := New(fc, nil)
		if _, ok := inf.Infer(context.Background(), drawBinding, "draw a cat", nil); ok {
			t.Errorf("reply %q should report not inferred", reply)
		}
	}
}

func TestInferEmptyContent(t *testing.T) {
	fc := &fakeClient{reply: "whatever"}
	inf := New(fc, nil)
	if _, ok := inf.Infer(context.Background(), drawBinding, "  ", nil); ok {
		t.Error("blank content should report not inferred without a backend call")
	}
	if fc.lastReq.Prompt != "" {
		t.Error("blank content should not reach the backend")
	}
}

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
		ok    bool
	}{
		{"plain", "austin tx", "austin tx", true},
		{"quoted", `"austin tx"`, "austin tx", true},
		{"first line only", "austin tx\nHope that helps!", "austin tx", true},
		{"leading blank lines", "\n\naustin tx", "austin tx", true},
		{"oversized", strings.Repeat("x", maxParameterLen+1), "", false},
		{"quoted empty", `""`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cleanReply(tt.reply)
			if ok != tt.ok || got != tt.want {
				t.Errorf("cleanReply(%q) = %q, %v; want %q, %v", tt.reply, got, ok, tt.want, tt.ok)
			}
		})
	}
}
