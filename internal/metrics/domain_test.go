package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCipherOps_Labels(t *testing.T) {
	before := testutil.ToFloat64(CipherOps.WithLabelValues("decrypt", "denied"))
	CipherOps.WithLabelValues("decrypt", "denied").Inc()
	after := testutil.ToFloat64(CipherOps.WithLabelValues("decrypt", "denied"))
	if after-before != 1 {
		t.Errorf("delta: got %f, want 1", after-before)
	}
}

func TestEntriesCreated(t *testing.T) {
	before := testutil.ToFloat64(EntriesCreated)
	EntriesCreated.Inc()
	ChunksStored.Add(10)
	if got := testutil.ToFloat64(EntriesCreated) - before; got != 1 {
		t.Errorf("entries delta: got %f, want 1", got)
	}
}

func TestRecordingWriter_CountsBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &recordingWriter{ResponseWriter: rec, status: http.StatusOK}
	rw.WriteHeader(http.StatusCreated)
	rw.Write([]byte("hello"))
	rw.Write([]byte(" world"))

	if rw.written != 11 {
		t.Errorf("written: got %d, want 11", rw.written)
	}
	if rw.status != http.StatusCreated {
		t.Errorf("status: got %d, want %d", rw.status, http.StatusCreated)
	}
}
