package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kwv/roadmesh/pose"
	"github.com/kwv/roadmesh/roadgraph"
	"github.com/kwv/roadmesh/survey"
)

// maxBodyBytes bounds POST bodies; samples and captures are small JSON objects
const maxBodyBytes = 1 << 20

// CaptureFunc resolves and records a capture of a source
type CaptureFunc func(ctx context.Context, sourceID string, c survey.Capture) (survey.CaptureRecord, error)

// RebuildFunc runs one graph rebuild
type RebuildFunc func(ctx context.Context) (roadgraph.Result, error)

// api serves the road graph and the pose stores over HTTP
type api struct {
	tracker     *survey.Tracker
	toleranceNs int64
	onCapture   CaptureFunc
	rebuild     RebuildFunc
	log         *zap.Logger
	now         func() time.Time
}

// poseQuery is the validated form of GET /pose
type poseQuery struct {
	Source      string `validate:"required"`
	T           int64  `validate:"gte=0"`
	ToleranceNs int64  `validate:"gte=0"`
}

// errorBody is the JSON error envelope
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(tracker *survey.Tracker, toleranceNs int64, onCapture CaptureFunc, rebuild RebuildFunc, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	a := &api{
		tracker:     tracker,
		toleranceNs: toleranceNs,
		onCapture:   onCapture,
		rebuild:     rebuild,
		log:         log,
		now:         time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.health)
	mux.HandleFunc("GET /roads.geojson", a.roadsGeoJSON)
	mux.HandleFunc("GET /roads.svg", a.roadsSVG)
	mux.HandleFunc("GET /roads.png", a.roadsPNG)
	mux.HandleFunc("GET /roads.polyline", a.roadsPolyline)
	mux.HandleFunc("GET /pose", a.pose)
	mux.HandleFunc("GET /samples", a.samples)
	mux.HandleFunc("POST /samples/position", a.postPosition)
	mux.HandleFunc("POST /samples/orientation", a.postOrientation)
	mux.HandleFunc("POST /captures", a.postCapture)
	mux.HandleFunc("POST /roads/rebuild", a.postRebuild)

	return a.logRequests(mux)
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := a.now()
		next.ServeHTTP(w, r)
		a.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("took", a.now().Sub(start)))
	})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		Sources   []string  `json:"sources"`
		Edges     int       `json:"edges"`
		Keys      int       `json:"keys"`
		LastBuilt time.Time `json:"lastBuilt"`
	}{
		Status:    "ok",
		Timestamp: a.now().UTC(),
		Sources:   a.tracker.Sources(),
		Edges:     len(a.tracker.Edges()),
		Keys:      a.tracker.Keys().Len(),
		LastBuilt: a.tracker.LastBuilt(),
	}
	a.writeJSON(w, http.StatusOK, status)
}

func (a *api) roadsGeoJSON(w http.ResponseWriter, r *http.Request) {
	var points []roadgraph.RoadPoint
	withPoints := r.URL.Query().Get("points") == "1"
	if withPoints {
		points = a.tracker.Points()
	}

	fc := roadgraph.ToGeoJSON(a.tracker.Edges(), points, a.tracker.Normalizer(),
		roadgraph.ExportOptions{Points: withPoints, Headings: withPoints})
	data, err := fc.MarshalJSON()
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "encode_failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		a.log.Warn("writing geojson response", zap.Error(err))
	}
}

func (a *api) roadsSVG(w http.ResponseWriter, r *http.Request) {
	a.render(w, "image/svg+xml", func(m *roadgraph.MapRenderer, out io.Writer) error {
		return m.RenderToSVG(out)
	})
}

func (a *api) roadsPNG(w http.ResponseWriter, r *http.Request) {
	a.render(w, "image/png", func(m *roadgraph.MapRenderer, out io.Writer) error {
		return m.RenderToPNG(out)
	})
}

// render draws into a buffer first so a failure can still set the status
func (a *api) render(w http.ResponseWriter, contentType string, draw func(*roadgraph.MapRenderer, io.Writer) error) {
	m := roadgraph.NewMapRenderer(a.tracker.Edges(), a.tracker.Points())
	m.Normalize = a.tracker.Normalizer()
	if m.Normalize == nil {
		m.Normalize = roadgraph.CanonicalLabel
	}

	var buf bytes.Buffer
	if err := draw(m, &buf); err != nil {
		if errors.Is(err, roadgraph.ErrNothingToRender) {
			a.writeError(w, http.StatusServiceUnavailable, "no_data", err)
			return
		}
		a.writeError(w, http.StatusInternalServerError, "render_failed", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.log.Warn("writing map response", zap.Error(err))
	}
}

func (a *api) roadsPolyline(w http.ResponseWriter, r *http.Request) {
	encoded := roadgraph.EncodePolylines(a.tracker.Edges())
	if encoded == nil {
		encoded = []roadgraph.EncodedEdges{}
	}
	a.writeJSON(w, http.StatusOK, encoded)
}

func (a *api) pose(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := poseQuery{Source: q.Get("source"), ToleranceNs: a.toleranceNs}

	t, err := strconv.ParseInt(q.Get("t"), 10, 64)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "bad_request", errors.New("t is required and must be an integer nanosecond timestamp"))
		return
	}
	query.T = t

	if raw := q.Get("tolerance"); raw != "" {
		tol, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "bad_request", errors.New("tolerance must be an integer number of nanoseconds"))
			return
		}
		query.ToleranceNs = tol
	}

	if err := survey.Validate(query); err != nil {
		a.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	store, ok := a.tracker.Store(query.Source)
	if !ok {
		a.writeError(w, http.StatusNotFound, "unknown_source", survey.ErrUnknownSource)
		return
	}

	fp, err := store.Resolve(query.T, query.ToleranceNs)
	if err != nil {
		a.writeResolveError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, fp)
}

// samples dumps the retained samples of one source
func (a *api) samples(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		a.writeError(w, http.StatusBadRequest, "bad_request", errors.New("source is required"))
		return
	}
	store, ok := a.tracker.Store(source)
	if !ok {
		a.writeError(w, http.StatusNotFound, "unknown_source", survey.ErrUnknownSource)
		return
	}

	positions, orientations := store.Snapshot()
	if positions == nil {
		positions = []pose.PositionSample{}
	}
	if orientations == nil {
		orientations = []pose.OrientationSample{}
	}
	a.writeJSON(w, http.StatusOK, struct {
		Source       string                   `json:"source"`
		Positions    []pose.PositionSample    `json:"positions"`
		Orientations []pose.OrientationSample `json:"orientations"`
	}{source, positions, orientations})
}

func (a *api) postPosition(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	s, err := survey.DecodePosition(body)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := a.tracker.AddPosition(r.URL.Query().Get("source"), s); err != nil {
		a.writeError(w, http.StatusNotFound, "unknown_source", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) postOrientation(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	s, err := survey.DecodeOrientation(body)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := a.tracker.AddOrientation(r.URL.Query().Get("source"), s); err != nil {
		a.writeError(w, http.StatusNotFound, "unknown_source", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) postCapture(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	c, err := survey.DecodeCapture(body)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	rec, err := a.onCapture(r.Context(), r.URL.Query().Get("source"), c)
	if err != nil {
		if errors.Is(err, survey.ErrUnknownSource) {
			a.writeError(w, http.StatusNotFound, "unknown_source", err)
			return
		}
		a.writeResolveError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, rec)
}

func (a *api) postRebuild(w http.ResponseWriter, r *http.Request) {
	res, err := a.rebuild(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "rebuild_failed", err)
		return
	}
	a.writeJSON(w, http.StatusOK, struct {
		NewEdges   int `json:"newEdges"`
		Suppressed int `json:"suppressed"`
		Keys       int `json:"keys"`
		Edges      int `json:"edges"`
	}{
		NewEdges:   len(res.Edges),
		Suppressed: res.Suppressed,
		Keys:       res.Keys.Len(),
		Edges:      len(a.tracker.Edges()),
	})
}

func (a *api) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err)
		return nil, false
	}
	return body, true
}

// writeResolveError maps pose store errors onto HTTP statuses
func (a *api) writeResolveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pose.ErrNoData):
		a.writeError(w, http.StatusNotFound, "no_data", err)
	case errors.Is(err, pose.ErrOutOfTolerance):
		a.writeError(w, http.StatusConflict, "out_of_tolerance", err)
	default:
		a.writeError(w, http.StatusInternalServerError, "internal", err)
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, code string, err error) {
	if status >= http.StatusInternalServerError {
		a.log.Error("http error", zap.String("code", code), zap.Error(err))
	}
	a.writeJSON(w, status, errorBody{Error: code, Message: err.Error()})
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn("encoding response", zap.Error(err))
	}
}
