package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ryanbastic/go-diary/internal/auth"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/events"
	"github.com/ryanbastic/go-diary/internal/fhe"
	"github.com/ryanbastic/go-diary/internal/ledger"
	"github.com/ryanbastic/go-diary/internal/shard"
	"github.com/ryanbastic/go-diary/internal/storage"
)

const testContract = "0x5fbdb2315678afecb367f032d93f642f64180aa3"

var (
	alice = mustOwner("0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	bob   = mustOwner("0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")

	keysOnce sync.Once
	testKeys *fhe.Keys
)

func mustOwner(s string) diary.Owner {
	o, err := diary.ParseOwner(s)
	if err != nil {
		panic(err)
	}
	return o
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type testEnv struct {
	server    http.Handler
	authority *auth.Authority
	plugins   *events.PluginRegistry
	contract  *ledger.Contract
}

type envOption func(*Deps)

func withBackends(b map[string]Pinger) envOption {
	return func(d *Deps) { d.Backends = b }
}

func withoutIssuer() envOption {
	return func(d *Deps) { d.IssueAuthorizations = false }
}

func withPluginStore(s events.PluginStore) envOption {
	return func(d *Deps) { d.PluginStore = s }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	keysOnce.Do(func() {
		k, err := fhe.GenerateKeys(12)
		if err != nil {
			panic(err)
		}
		testKeys = k
	})

	signer, err := auth.NewProofSigner(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	authority := auth.NewAuthority([]byte("api-test-secret"), time.Hour)
	cp := fhe.NewCoprocessor(testKeys, fhe.NewMemoryStore(), signer, authority, testLogger())

	router := shard.NewRouter(2)
	router.Register(0, storage.NewMemoryStore())
	router.Register(1, storage.NewMemoryStore())
	contract := ledger.New(testContract, router, cp.Verifier(), testLogger())
	plugins := events.NewPluginRegistry()

	d := Deps{
		Logger:              testLogger(),
		Contract:            contract,
		Coprocessor:         cp,
		Authority:           authority,
		Plugins:             plugins,
		IssueAuthorizations: true,
	}
	for _, o := range opts {
		o(&d)
	}
	return &testEnv{server: NewServer(d), authority: authority, plugins: plugins, contract: contract}
}

func (e *testEnv) token(t *testing.T, owner diary.Owner, scope auth.Scope) string {
	t.Helper()
	tok, _, err := e.authority.Issue(owner, testContract, scope, 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return "Bearer " + tok
}

// do sends a JSON request and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}
