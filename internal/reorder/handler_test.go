package reorder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type stubEnqueuer struct {
	actor int64
	err   error
}

func (s *stubEnqueuer) EnqueueReorderRun(ctx context.Context, actorID int64) (string, error) {
	s.actor = actorID
	if s.err != nil {
		return "", s.err
	}
	return "task-1", nil
}

func newTestRouter(t *testing.T, enqueuer RunEnqueuer) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture()
	forecaster, _ := newForecastFixture(t, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-Actor-ID") == "3" {
				req = req.WithContext(shared.ContextWithActor(req.Context(), 3))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/reorder", NewHandler(nil, f.engine, forecaster, enqueuer).MountRoutes)
	return r, f
}

func call(router http.Handler, method, path string, actor bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if actor {
		req.Header.Set("X-Actor-ID", "3")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRunForCreatesDraft(t *testing.T) {
	router, f := newTestRouter(t, nil)

	rec := call(router, http.MethodPost, "/reorder/runs/1/1", false)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(router, http.MethodPost, "/reorder/runs/1/1", true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var outcome Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	require.NotNil(t, outcome.Order)
	require.Equal(t, int64(3), f.orders.created[0].ActorID)

	rec = call(router, http.MethodPost, "/reorder/runs/1/1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	require.Equal(t, SkipCoveredByPOs, outcome.Skipped)

	rec = call(router, http.MethodPost, "/reorder/runs/1/2", true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerEnqueueRun(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router, _ := newTestRouter(t, enqueuer)

	rec := call(router, http.MethodPost, "/reorder/runs", true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"task_id":"task-1"}`, rec.Body.String())
	require.Equal(t, int64(3), enqueuer.actor)

	enqueuer.err = shared.ErrConflict
	rec = call(router, http.MethodPost, "/reorder/runs", true)
	require.Equal(t, http.StatusConflict, rec.Code)

	bare, _ := newTestRouter(t, nil)
	rec = call(bare, http.MethodPost, "/reorder/runs", true)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandlerSuggestionsAndForecast(t *testing.T) {
	router, f := newTestRouter(t, nil)

	rec := call(router, http.MethodGet, "/reorder/suggestions", false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, f.orders.created)

	rec = call(router, http.MethodGet, "/reorder/forecasts/1", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var forecast Forecast
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &forecast))
	require.Equal(t, TrendIncreasing, forecast.Trend)
	require.Len(t, forecast.WeeklyDemand, 12)

	rec = call(router, http.MethodGet, "/reorder/forecasts/zero", false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
