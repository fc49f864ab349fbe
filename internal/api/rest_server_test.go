package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/arena-sync/internal/ability"
	"github.com/annel0/arena-sync/internal/game"
	"github.com/annel0/arena-sync/internal/network"
	"github.com/annel0/arena-sync/internal/protocol"
	"github.com/annel0/arena-sync/internal/storage"
)

type staticStats network.Stats

func (s staticStats) Stats() network.Stats { return network.Stats(s) }

type fixture struct {
	rs      *RestServer
	manager *game.EventManager
	journal *storage.Journal
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	manager := game.NewEventManager(game.Options{
		Role:    game.RoleAuthority,
		Catalog: ability.DefaultCatalog(),
		Rules:   ability.DefaultRules(),
		Seed:    7,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		started := time.Now()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				manager.Step(time.Since(started))
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	journal, err := storage.OpenJournal(storage.JournalOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	rs := NewRestServer(Config{
		AdminToken: token,
		Manager:    manager,
		Server:     staticStats{Tick: 42, Sessions: 1, Claimed: 1},
		Journal:    journal,
		Registry:   prometheus.NewRegistry(),
	})
	return &fixture{rs: rs, manager: manager, journal: journal}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.rs.Handler().ServeHTTP(w, req)

	var resp GenericResponse
	if strings.HasPrefix(path, "/api") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	w, _ := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-Id"))
}

func TestStats(t *testing.T) {
	f := newFixture(t, "")
	w, resp := f.do(t, http.MethodGet, "/api/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(42), data["network"].(map[string]interface{})["tick"])
	assert.Contains(t, data, "process")
	assert.Contains(t, data, "host")
	assert.Contains(t, data, "journal_last")
}

func TestNPCLifecycle(t *testing.T) {
	f := newFixture(t, "s3cret")

	body := `{"name":"target","archetype":10,"position":{"x":5,"y":0,"z":5}}`
	w, _ := f.do(t, http.MethodPost, "/api/npcs", body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = f.do(t, http.MethodPost, "/api/npcs", body, "wrong")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := f.do(t, http.MethodPost, "/api/npcs", body, "s3cret")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	uid := int32(resp.Data.(map[string]interface{})["uid"].(float64))
	assert.Negative(t, uid)

	require.Eventually(t, func() bool {
		_, ok := f.manager.UnitView(uid)
		return ok
	}, time.Second, 5*time.Millisecond)

	w, resp = f.do(t, http.MethodGet, "/api/units/"+itoa(uid), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "target", resp.Data.(map[string]interface{})["name"])

	w, _ = f.do(t, http.MethodDelete, "/api/npcs/"+itoa(uid), "", "s3cret")
	assert.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		_, ok := f.manager.UnitView(uid)
		return !ok
	}, time.Second, 5*time.Millisecond)

	w, _ = f.do(t, http.MethodDelete, "/api/npcs/"+itoa(uid), "", "s3cret")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNPCBadRequests(t *testing.T) {
	f := newFixture(t, "")

	w, _ := f.do(t, http.MethodPost, "/api/npcs", `{"archetype":999}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodPost, "/api/npcs", `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodDelete, "/api/npcs/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodGet, "/api/units/77", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJournalPaging(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	for tick := uint64(1); tick <= 3; tick++ {
		require.NoError(t, f.journal.ConsumeBatch(ctx, network.Batch{
			Tick:    tick,
			At:      time.Now(),
			Records: []protocol.Record{protocol.Despawn{UID: int32(tick)}},
		}))
	}

	w, resp := f.do(t, http.MethodGet, "/api/journal?from=2&limit=5", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(3), data["last"])
	assert.Len(t, data["entries"], 2)

	w, _ = f.do(t, http.MethodGet, "/api/journal?limit=-1", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodGet, "/api/journal?from=x", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "")
	f.do(t, http.MethodGet, "/health", "", "")

	w, _ := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "arena_api_http_request_duration_seconds")
}

func itoa(v int32) string {
	b, _ := json.Marshal(v)
	return string(b)
}
