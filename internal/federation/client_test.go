package federation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestFetchRecordRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("did") != "did:plc:abc" {
			t.Fatalf("expected did query forwarded, got %q", r.URL.Query().Get("did"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cid":"cid1","rev":"rev1","record":{"title":"hi"}}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL})
	cid, rev, record, err := client.FetchRecord(context.Background(), "did:plc:abc", "weaver.notebook.entry", "r1")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if cid != "cid1" || rev != "rev1" {
		t.Fatalf("unexpected cid/rev: %s %s", cid, rev)
	}
	if string(record) != `{"title":"hi"}` {
		t.Fatalf("unexpected record json: %s", record)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
}

func TestFetchRecordNonRetryableError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL})
	_, _, _, err := client.FetchRecord(context.Background(), "did:plc:abc", "weaver.notebook.entry", "r1")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", httpErr.StatusCode)
	}
}

func TestUploadAndFetchBlob(t *testing.T) {
	var stored []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.weaver.repo.uploadBlob":
			body := make([]byte, r.ContentLength)
			_, _ = r.Body.Read(body)
			stored = body
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"cid":"blobcid1"}`))
		case "/xrpc/com.weaver.repo.getBlob":
			if r.URL.Query().Get("cid") != "blobcid1" {
				t.Fatalf("expected cid forwarded, got %q", r.URL.Query().Get("cid"))
			}
			_, _ = w.Write(stored)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL})
	cid, err := client.UploadBlob(context.Background(), "did:plc:abc", []byte("snapshot-bytes"), "application/octet-stream")
	if err != nil {
		t.Fatalf("upload blob: %v", err)
	}
	if cid != "blobcid1" {
		t.Fatalf("expected blobcid1, got %s", cid)
	}
	got, err := client.FetchBlob(context.Background(), "did:plc:abc", cid)
	if err != nil {
		t.Fatalf("fetch blob: %v", err)
	}
	if string(got) != "snapshot-bytes" {
		t.Fatalf("unexpected blob bytes: %s", got)
	}
}
