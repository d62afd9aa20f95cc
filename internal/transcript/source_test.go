package transcript

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcripts/V1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query()["lang"]; len(got) != 2 || got[0] != "es" || got[1] != "en" {
			t.Errorf("lang params = %v", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"video_id": "V1",
			"language": "es",
			"lines": [{"start": 0, "duration": 2.5, "text": "Hola, ¿cómo estás?"}]
		}`))
	}))
	defer srv.Close()

	tr, err := NewClient(srv.URL).Fetch(context.Background(), "V1", []string{"es", "en"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if tr.VideoID != "V1" || tr.Language != "es" {
		t.Errorf("transcript identity = %s/%s", tr.VideoID, tr.Language)
	}
	if len(tr.Lines) != 1 || tr.Lines[0].Text != "Hola, ¿cómo estás?" {
		t.Errorf("lines = %+v", tr.Lines)
	}
}

func TestFetch_UnavailableCarriesLanguages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"available_languages": ["de", "fr"]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "V1", []string{"es"})
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("got %v, want UnavailableError", err)
	}
	if len(ue.Available) != 2 || ue.Available[0] != "de" {
		t.Errorf("available = %v", ue.Available)
	}
	if len(ue.Requested) != 1 || ue.Requested[0] != "es" {
		t.Errorf("requested = %v", ue.Requested)
	}
}

func TestFetch_BareNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "V1", []string{"es"})
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("got %v, want UnavailableError even without a body", err)
	}
}

func TestFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "V1", []string{"es"})
	if err == nil {
		t.Fatal("server error swallowed")
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		t.Error("server error misreported as unavailable transcript")
	}
}
