package azure

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxline/voxline/pkg/provider/tts"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "westeurope"); err == nil {
		t.Fatal("want error for empty API key")
	}
	if _, err := New("key", ""); err == nil {
		t.Fatal("want error for empty region")
	}
}

func TestBuildSSML_EscapesText(t *testing.T) {
	ssml, err := buildSSML("1 < 2 & you", "en-US-AvaMultilingualNeural", "en-US")
	if err != nil {
		t.Fatalf("buildSSML: %v", err)
	}
	s := string(ssml)
	if strings.Contains(s, "1 < 2 &") {
		t.Errorf("text not escaped: %s", s)
	}
	if !strings.Contains(s, "&lt;") || !strings.Contains(s, "&amp;") {
		t.Errorf("want escaped entities in %s", s)
	}
	if !strings.Contains(s, "<voice name='en-US-AvaMultilingualNeural'>") {
		t.Errorf("want voice element in %s", s)
	}
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New("test-key", "westeurope", WithVoice("en-US-CoraMultilingualNeural"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.endpoint = srv.URL
	return p
}

func TestSynthesize(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotKey, gotFormat, gotBody string
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
			gotFormat = r.Header.Get("X-Microsoft-OutputFormat")
			buf := make([]byte, 1024)
			n, _ := r.Body.Read(buf)
			gotBody = string(buf[:n])
			w.Write([]byte("mp3-bytes"))
		})

		audio, err := p.Synthesize(context.Background(), "hello there", "")
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if string(audio) != "mp3-bytes" {
			t.Errorf("want audio bytes back, got %q", audio)
		}
		if gotKey != "test-key" {
			t.Errorf("want subscription key header, got %q", gotKey)
		}
		if gotFormat != "audio-16khz-64kbitrate-mono-mp3" {
			t.Errorf("want default output format, got %q", gotFormat)
		}
		if !strings.Contains(gotBody, "en-US-CoraMultilingualNeural") {
			t.Errorf("want configured default voice in SSML, got %s", gotBody)
		}
	})

	t.Run("explicit voice overrides default", func(t *testing.T) {
		var gotBody string
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			buf := make([]byte, 1024)
			n, _ := r.Body.Read(buf)
			gotBody = string(buf[:n])
			w.Write([]byte("x"))
		})

		if _, err := p.Synthesize(context.Background(), "hi", "en-US-AvaMultilingualNeural"); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if !strings.Contains(gotBody, "en-US-AvaMultilingualNeural") {
			t.Errorf("want explicit voice in SSML, got %s", gotBody)
		}
	})

	t.Run("empty audio is an error", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		_, err := p.Synthesize(context.Background(), "hi", "")
		if !errors.Is(err, tts.ErrEmptyAudio) {
			t.Fatalf("want ErrEmptyAudio, got %v", err)
		}
	})

	t.Run("non-200 status", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad key", http.StatusUnauthorized)
		})

		_, err := p.Synthesize(context.Background(), "hi", "")
		if err == nil || !strings.Contains(err.Error(), "401") {
			t.Fatalf("want status error, got %v", err)
		}
	})
}

func TestContentType(t *testing.T) {
	p, err := New("key", "westeurope")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.ContentType(); got != "audio/mpeg" {
		t.Errorf("want audio/mpeg, got %q", got)
	}
}
