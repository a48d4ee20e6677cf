package cybersponse

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ashfaaq98/cybersponse-lookup/internal/auth"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/cache"
	"github.com/Ashfaaq98/cybersponse-lookup/internal/httpclient"
)

const fakeToken = "tok-123"

// fakeCyberSponse emulates the endpoints the integration talks to. Query
// matching is exact and case-sensitive, like a real field equality filter.
type fakeCyberSponse struct {
	mu sync.Mutex

	actions    []map[string]interface{}
	incidents  map[string][]Record
	indicators map[string][]Record
	related    map[string]int

	failPrefix   string
	invokeStatus int

	calls            map[string]int
	authCalls        int
	incidentQueries  []queryBody
	indicatorQueries []queryBody
	invocations      []invokeBody
}

func newFakeCyberSponse() *fakeCyberSponse {
	return &fakeCyberSponse{
		incidents:    make(map[string][]Record),
		indicators:   make(map[string][]Record),
		related:      make(map[string]int),
		calls:        make(map[string]int),
		invokeStatus: http.StatusOK,
	}
}

func (f *fakeCyberSponse) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeCyberSponse) queries() (incidents, indicators []queryBody) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queryBody(nil), f.incidentQueries...), append([]queryBody(nil), f.indicatorQueries...)
}

func (f *fakeCyberSponse) invoked() []invokeBody {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invokeBody(nil), f.invocations...)
}

func (f *fakeCyberSponse) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

func members(items interface{}) map[string]interface{} {
	return map[string]interface{}{"hydra:member": items}
}

func (f *fakeCyberSponse) start(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if r.URL.Path == "/auth/authenticate" {
			f.authCalls++
			json.NewEncoder(w).Encode(map[string]string{"token": fakeToken})
			return
		}

		if r.Header.Get("Authorization") != "Bearer "+fakeToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f.calls[r.Method+" "+r.URL.Path]++

		if f.failPrefix != "" && strings.HasPrefix(r.URL.Path, f.failPrefix) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message":"internal error"}`))
			return
		}

		switch {
		case r.URL.Path == "/api/workflows/actions":
			json.NewEncoder(w).Encode(members(f.actions))

		case r.URL.Path == "/api/query/incidents":
			var q queryBody
			json.NewDecoder(r.Body).Decode(&q)
			f.incidentQueries = append(f.incidentQueries, q)
			json.NewEncoder(w).Encode(members(matchQuery(q, f.incidents)))

		case r.URL.Path == "/api/query/indicators":
			var q queryBody
			json.NewDecoder(r.Body).Decode(&q)
			f.indicatorQueries = append(f.indicatorQueries, q)
			json.NewEncoder(w).Encode(members(matchQuery(q, f.indicators)))

		case strings.HasPrefix(r.URL.Path, "/api/triggers/1/action/"):
			var body invokeBody
			json.NewDecoder(r.Body).Decode(&body)
			f.invocations = append(f.invocations, body)
			w.WriteHeader(f.invokeStatus)
			w.Write([]byte(`{}`))

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/3/"):
			n := f.related[r.URL.Path]
			items := make([]map[string]string, n)
			for i := range items {
				items[i] = map[string]string{"id": "x"}
			}
			json.NewEncoder(w).Encode(members(items))

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// matchQuery ORs exact equality filters over the stored values.
func matchQuery(q queryBody, data map[string][]Record) []Record {
	out := []Record{}
	seen := make(map[string]bool)
	for _, f := range q.Filters {
		for _, rec := range data[f.Value] {
			if seen[rec.ID()] {
				continue
			}
			seen[rec.ID()] = true
			out = append(out, rec)
		}
	}
	return out
}

func picklist(label string) map[string]interface{} {
	return map[string]interface{}{"itemValue": label}
}

func newTestService(t *testing.T, srv *httptest.Server) *Service {
	t.Helper()
	client := httpclient.NewWithHTTPClient(srv.Client(), auth.NewTokenCache(), nil)
	mem := cache.NewMemoryCacheWithClock(1000, time.Now)
	responses := cache.NewManagerWith(mem, nil, cache.Options{}, nil)
	return NewService(client, responses, nil)
}

func testOptions(srv *httptest.Server) Options {
	return Options{Host: srv.URL, Username: "analyst", Password: "pw"}
}
