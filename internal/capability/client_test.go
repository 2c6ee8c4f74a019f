package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/moxley/arbiter/internal/chat"
)

func TestParseID(t *testing.T) {
	for _, id := range All {
		got, err := ParseID(string(id))
		if err != nil {
			t.Errorf("ParseID(%q) error: %v", id, err)
		}
		if got != id {
			t.Errorf("ParseID(%q) = %q", id, got)
		}
	}
	if _, err := ParseID("teleport"); err == nil {
		t.Error("expected error for unknown capability")
	}
}

func TestProducesMedia(t *testing.T) {
	if !Image.ProducesMedia() || !Meme.ProducesMedia() {
		t.Error("image and meme should produce media")
	}
	for _, id := range []ID{Chat, Search, Weather, Sports} {
		if id.ProducesMedia() {
			t.Errorf("%s should not produce media", id)
		}
	}
}

func TestInvokeSuccess(t *testing.T) {
	var gotReq wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("got method %q", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("got content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(wireResponse{
			Success: true,
			Text:    "73F and sunny",
		})
	}))
	defer srv.Close()

	c := NewServiceClient(Weather, srv.URL, time.Minute, nil)
	res, err := c.Invoke(context.Background(), Request{
		Requester: "alice",
		Input:     "austin tx",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Text != "73F and sunny" {
		t.Errorf("got result %+v", res)
	}
	if res.Capability != Weather {
		t.Errorf("got capability %q", res.Capability)
	}
	if gotReq.Requester != "alice" || gotReq.Input != "austin tx" {
		t.Errorf("got request %+v", gotReq)
	}
}

func TestInvokeImages(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4e, 0x47}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wireRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Images) != 1 || req.Images[0].ContentType != "image/jpeg" {
			t.Errorf("got request images %+v", req.Images)
		}
		json.NewEncoder(w).Encode(wireResponse{
			Success: true,
			Images:  []wireAttachment{{ContentType: "image/png", Data: png}},
		})
	}))
	defer srv.Close()

	c := NewServiceClient(Image, srv.URL, time.Minute, nil)
	res, err := c.Invoke(context.Background(), Request{
		Input:  "a cat in space",
		Images: []chat.Attachment{{ContentType: "image/jpeg", Data: []byte{0xff}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("got %d images, want 1", len(res.Images))
	}
	if res.Images[0].ContentType != "image/png" || string(res.Images[0].Data) != string(png) {
		t.Errorf("got image %+v", res.Images[0])
	}
}

func TestInvokeBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{
			Success: false,
			Error:   "renderer out of memory",
		})
	}))
	defer srv.Close()

	c := NewServiceClient(Image, srv.URL, time.Minute, nil)
	_, err := c.Invoke(context.Background(), Request{Input: "a cat"})
	if err == nil {
		t.Fatal("expected error for success=false")
	}
	if !strings.Contains(err.Error(), "renderer out of memory") {
		t.Errorf("error should carry backend message, got %v", err)
	}
}

func TestInvokeBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not today", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewServiceClient(Search, srv.URL, time.Minute, nil)
	_, err := c.Invoke(context.Background(), Request{Input: "go concurrency"})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should carry status, got %v", err)
	}
}

func TestInvokeContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewServiceClient(Sports, srv.URL, time.Minute, nil)
	_, err := c.Invoke(ctx, Request{Input: "nfl"})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}
