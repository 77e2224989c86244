// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwavehq/airwave/internal/audit"
	"github.com/airwavehq/airwave/internal/config"
	"github.com/airwavehq/airwave/internal/discovery"
	"github.com/airwavehq/airwave/internal/identity"
	"github.com/airwavehq/airwave/internal/ingest"
	"github.com/airwavehq/airwave/internal/jobs"
	"github.com/airwavehq/airwave/internal/library"
	"github.com/airwavehq/airwave/internal/match"
	"github.com/airwavehq/airwave/internal/normalize"
	"github.com/airwavehq/airwave/internal/resolver"
	"github.com/airwavehq/airwave/internal/scanner"
	"github.com/airwavehq/airwave/internal/vector"
)

const testToken = "test-token"

type testEnv struct {
	server *httptest.Server
	store  *library.Store
}

func newEnv(t *testing.T) testEnv {
	t.Helper()

	store, err := library.NewStore(filepath.Join(t.TempDir(), "kb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx, err := vector.Open(filepath.Join(t.TempDir(), "vectors"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	cfg := config.Defaults()
	cfg.APIToken = testToken
	cfg.LibraryRoot = t.TempDir()
	mgr := config.NewManager(cfg, nil)

	controller, err := jobs.NewController("")
	require.NoError(t, err)
	t.Cleanup(controller.Close)

	recorder := audit.NewRecorder(store.DB())
	matcher := match.New(store, idx)
	engine := discovery.New(store, matcher)

	srv := NewServer(Deps{
		Config:   mgr,
		Store:    store,
		Index:    idx,
		Matcher:  matcher,
		Ingest:   ingest.New(store, engine),
		Identity: identity.New(store, recorder, cfg.AuditRetainDays),
		Engine:   engine,
		Resolver: resolver.New(store, resolver.NewMemoryCache(), time.Minute),
		Scanner:  scanner.New(store, idx),
		Jobs:     controller,
		Audit:    recorder,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testEnv{server: ts, store: store}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAuthRequired(t *testing.T) {
	env := newEnv(t)

	resp, err := http.Get(env.server.URL + "/api/thresholds")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/thresholds", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestHealthzIsPublic(t *testing.T) {
	env := newEnv(t)
	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestThresholdsRoundTrip(t *testing.T) {
	env := newEnv(t)

	got := decode[config.Thresholds](t, env.do(t, http.MethodGet, "/api/thresholds", nil))
	assert.InDelta(t, 0.85, got.ArtistAuto, 1e-9)

	updated := config.Thresholds{ArtistAuto: 0.9, ArtistReview: 0.75, TitleAuto: 0.85, TitleReview: 0.7}
	resp := env.do(t, http.MethodPut, "/api/thresholds", updated)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	got = decode[config.Thresholds](t, env.do(t, http.MethodGet, "/api/thresholds", nil))
	assert.InDelta(t, 0.9, got.ArtistAuto, 1e-9)

	// review > auto is rejected.
	bad := config.Thresholds{ArtistAuto: 0.5, ArtistReview: 0.9, TitleAuto: 0.8, TitleReview: 0.7}
	resp = env.do(t, http.MethodPut, "/api/thresholds", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestSubmitLogsEndToEnd(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	artist, err := env.store.UpsertArtist(ctx, "the beatles", "")
	require.NoError(t, err)
	work, err := env.store.UpsertWork(ctx, "hey jude", artist.ID, library.FuzzyOpts{})
	require.NoError(t, err)
	_, err = env.store.UpsertRecording(ctx, work.ID, "hey jude", "Original", 0, "")
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/api/logs", submitLogsRequest{
		StationID: "st1",
		Plays: []ingest.Play{
			{PlayedAt: time.Now(), RawArtist: "The Beatles", RawTitle: "Hey Jude"},
			{PlayedAt: time.Now(), RawArtist: "Nobody Knows", RawTitle: "Mystery Tune"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[ingest.Result](t, resp)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.AutoLinked)
	assert.Equal(t, 1, result.Queued)
}

func TestQueueLinkFlow(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	artist, err := env.store.UpsertArtist(ctx, "queen", "")
	require.NoError(t, err)
	work, err := env.store.UpsertWork(ctx, "one vision", artist.ID, library.FuzzyOpts{})
	require.NoError(t, err)

	sig := normalize.Signature("QUEEN!!", "ONE VISION")
	_, err = env.store.InsertBroadcastLog(ctx, "st1", time.Now(), "QUEEN!!", "ONE VISION", sig)
	require.NoError(t, err)
	require.NoError(t, env.store.UpsertQueueItem(ctx, sig, "QUEEN!!", "ONE VISION", nil, library.QueueScores{}))

	listResp := env.do(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	listing := decode[struct {
		Items []library.DiscoveryQueueItem `json:"items"`
		Total int                          `json:"total"`
	}](t, listResp)
	require.Len(t, listing.Items, 1)

	linkResp := env.do(t, http.MethodPost, "/api/queue/link", linkRequest{Signature: sig, WorkID: work.ID})
	require.Equal(t, http.StatusOK, linkResp.StatusCode)
	result := decode[identity.LinkResult](t, linkResp)
	assert.Equal(t, 1, result.Backfilled)

	// Undo through the API restores the queue item.
	undoResp := env.do(t, http.MethodPost, "/api/undo/"+strconv.FormatInt(result.AuditID, 10), nil)
	require.Equal(t, http.StatusOK, undoResp.StatusCode)
	_ = undoResp.Body.Close()

	item, err := env.store.QueueItem(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, "QUEEN!!", item.RawArtist)
}

func TestResolveValidation(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodGet, "/api/resolve", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/resolve?work_id=424242", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodGet, "/api/tasks/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	// A scan over the (empty) configured root completes.
	scanResp := env.do(t, http.MethodPost, "/api/scan", nil)
	require.Equal(t, http.StatusAccepted, scanResp.StatusCode)
	started := decode[map[string]string](t, scanResp)
	taskID := started["task_id"]
	require.NotEmpty(t, taskID)

	deadline := time.Now().Add(5 * time.Second)
	for {
		statusResp := env.do(t, http.MethodGet, "/api/tasks/"+taskID, nil)
		task := decode[jobs.Task](t, statusResp)
		if task.State.Terminal() {
			assert.Equal(t, jobs.StateCompleted, task.State)
			break
		}
		require.True(t, time.Now().Before(deadline), "scan task never finished")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMergeArtistsOverHTTP(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	a, err := env.store.UpsertArtist(ctx, "beatles", "")
	require.NoError(t, err)
	b, err := env.store.UpsertArtist(ctx, "the beatles", "")
	require.NoError(t, err)
	_, err = env.store.UpsertWork(ctx, "hey jude", a.ID, library.FuzzyOpts{})
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/api/artists/merge", mergeRequest{SourceID: a.ID, TargetID: b.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	works, err := env.store.WorksByArtist(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, works, 1)

	_, err = env.store.ArtistByID(ctx, a.ID)
	assert.ErrorIs(t, err, library.ErrNotFound)
}
