package web

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"UnShiney/server/internal/architecture"
	"UnShiney/server/internal/config"
	"UnShiney/server/internal/dataset"
	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/imageref"
	"UnShiney/server/internal/models"
	"UnShiney/server/internal/training"
	"UnShiney/server/internal/workspace"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

const (
	chartWidth  = 800
	chartHeight = 360
)

type Handlers struct {
	config *config.Config
	ws     *workspace.Workspace
	hub    *EventHub
}

func NewHandlers(cfg *config.Config, ws *workspace.Workspace, hub *EventHub) *Handlers {
	return &Handlers{config: cfg, ws: ws, hub: hub}
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		klog.V(1).Infof("REQUEST: %s %s -> %d (%v)", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func NewRouter(cfg *config.Config, ws *workspace.Workspace, hub *EventHub) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(corsMiddleware)

	h := NewHandlers(cfg, ws, hub)

	filesDir := http.Dir(cfg.Server.StaticDir)
	fileServer := http.StripPrefix("/static/", http.FileServer(filesDir))

	// Public routes
	r.Get("/", h.Home)
	r.Get("/health", h.HealthCheck)
	r.Handle("/static/*", fileServer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/process", h.Process)
		r.Get("/process/latest", h.LatestProcessed)

		r.Route("/staging", func(r chi.Router) {
			r.Get("/", h.GetStaging)
			r.Delete("/", h.ResetStaging)
			r.Post("/commit", h.CommitStaging)
			r.Put("/{slot}", h.StageImage)
		})

		r.Route("/dataset", func(r chi.Router) {
			r.Get("/", h.GetDataset)
			r.Delete("/", h.ClearDataset)
			r.Get("/export", h.ExportDataset)
			r.Post("/import", h.ImportDataset)
			r.Post("/bulk", h.BulkImport)
			r.Post("/samples", h.GenerateSamples)
			r.Delete("/{id}", h.RemovePair)
		})

		r.Route("/model", func(r chi.Router) {
			r.Get("/", h.GetModel)
			r.Post("/preset/{kind}", h.SelectPreset)
			r.Post("/layers", h.AddLayer)
			r.Delete("/layers/{index}", h.RemoveLayer)
			r.Patch("/layers/{index}", h.UpdateLayer)
			r.Put("/params", h.SetParams)
			r.Get("/configs", h.ListConfigs)
			r.Post("/configs", h.SaveConfig)
			r.Post("/configs/load", h.LoadConfig)
		})

		r.Route("/training", func(r chi.Router) {
			r.Get("/", h.GetTraining)
			r.Post("/start", h.StartTraining)
			r.Post("/cancel", h.CancelTraining)
			r.Get("/chart.svg", h.TrainingChart)
		})

		r.Get("/events", h.Events)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.V(1).Infof("[Web] write response: %v", err)
	}
}

// statusFor maps an error kind onto the HTTP status the page reacts to.
func statusFor(err error) int {
	switch {
	case errs.Is(err, errs.ErrValidation):
		return http.StatusUnsupportedMediaType
	case errs.Is(err, errs.ErrFormat),
		errs.Is(err, errs.ErrIndex),
		errs.Is(err, errs.ErrInvalidArgument):
		return http.StatusBadRequest
	case errs.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errs.Is(err, errs.ErrPrecondition):
		return http.StatusConflict
	case errs.Is(err, errs.ErrServer):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		klog.Errorf("[Web] %+v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeFieldError is writeError for form edits, where a rejected value is a
// plain bad request rather than a wrong upload type.
func writeFieldError(w http.ResponseWriter, err error) {
	if errs.Is(err, errs.ErrValidation) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeError(w, err)
}

func (h *Handlers) maxUpload() int64 {
	return int64(h.config.Server.MaxUploadMB) << 20
}

func readPart(fh *multipart.FileHeader) (imageref.File, error) {
	f, err := fh.Open()
	if err != nil {
		return imageref.File{}, errors.Wrapf(errs.ErrInvalidArgument, "open %s: %v", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return imageref.File{}, errors.Wrapf(errs.ErrInvalidArgument, "read %s: %v", fh.Filename, err)
	}
	return imageref.File{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}, nil
}

// formFiles returns the uploads of one multipart field in submission order.
func (h *Handlers) formFiles(w http.ResponseWriter, r *http.Request, field string) ([]imageref.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload())
	if err := r.ParseMultipartForm(h.maxUpload()); err != nil {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "multipart form: %v", err)
	}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "no %s provided", field)
	}
	files := make([]imageref.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"service": "unshiney",
		"clients": h.hub.GetClientCount(),
	}
	if err := h.ws.Health(r.Context()); err != nil {
		status["backend"] = err.Error()
	} else {
		status["backend"] = "ok"
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	indexPath := filepath.Join(h.config.Server.StaticDir, "index.html")
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "index.html not found"})
		return
	}
	http.ServeFile(w, r, indexPath)
}

// Processing

func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	files, err := h.formFiles(w, r, "image")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.ws.Process(r.Context(), files[0], r.FormValue("model_type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) LatestProcessed(w http.ResponseWriter, r *http.Request) {
	res, ok := h.ws.LatestProcessed()
	if !ok {
		writeError(w, errors.Wrap(errs.ErrNotFound, "nothing processed yet"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Staging

func (h *Handlers) GetStaging(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ws.Staging())
}

func (h *Handlers) StageImage(w http.ResponseWriter, r *http.Request) {
	slot, err := dataset.ParseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		writeError(w, err)
		return
	}
	files, err := h.formFiles(w, r, "file")
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.ws.StageImage(slot, files[0])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) CommitStaging(w http.ResponseWriter, r *http.Request) {
	pair, err := h.ws.CommitStaging()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (h *Handlers) ResetStaging(w http.ResponseWriter, r *http.Request) {
	h.ws.ResetStaging()
	w.WriteHeader(http.StatusNoContent)
}

// Dataset

func (h *Handlers) GetDataset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ws.Dataset())
}

func (h *Handlers) ClearDataset(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := h.ws.ClearDataset(confirmed); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemovePair treats an unknown id as already removed.
func (h *Handlers) RemovePair(w http.ResponseWriter, r *http.Request) {
	if err := h.ws.RemovePair(chi.URLParam(r, "id")); err != nil && !errs.Is(err, errs.ErrNotFound) {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ExportDataset(w http.ResponseWriter, r *http.Request) {
	data, err := h.ws.ExportDataset()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+dataset.ExportFileName+`"`)
	_, _ = w.Write(data)
}

// readDocument accepts a JSON document either as the raw body or as the
// "file" field of a multipart upload.
func (h *Handlers) readDocument(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		files, err := h.formFiles(w, r, "file")
		if err != nil {
			return nil, err
		}
		return files[0].Data, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload()))
	if err != nil {
		return nil, errors.Wrapf(errs.ErrInvalidArgument, "read body: %v", err)
	}
	return data, nil
}

func (h *Handlers) ImportDataset(w http.ResponseWriter, r *http.Request) {
	data, err := h.readDocument(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.ws.ImportDataset(data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) BulkImport(w http.ResponseWriter, r *http.Request) {
	files, err := h.formFiles(w, r, "files")
	if err != nil {
		writeError(w, err)
		return
	}
	added, err := h.ws.BulkImport(files)
	failures := make([]string, 0)
	for _, e := range multierr.Errors(err) {
		failures = append(failures, e.Error())
	}
	if len(added) == 0 && err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"added":    added,
		"failures": failures,
		"count":    h.ws.Dataset().Count,
	})
}

func (h *Handlers) GenerateSamples(w http.ResponseWriter, r *http.Request) {
	res, err := h.ws.GenerateSamples(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Model builder

func (h *Handlers) GetModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ws.Model())
}

func (h *Handlers) SelectPreset(w http.ResponseWriter, r *http.Request) {
	state, err := h.ws.SelectPreset(architecture.Preset(chi.URLParam(r, "kind")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) AddLayer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type models.LayerKind `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrapf(errs.ErrFormat, "invalid request body: %v", err))
		return
	}
	state, err := h.ws.AddLayer(req.Type)
	if err != nil {
		writeFieldError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func layerIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(errs.ErrIndex, "layer index %q", raw)
	}
	return i, nil
}

func (h *Handlers) RemoveLayer(w http.ResponseWriter, r *http.Request) {
	i, err := layerIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := h.ws.RemoveLayer(i)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// UpdateLayer takes an object of field name to textual value, e.g.
// {"units": "256", "activation": "tanh"}.
func (h *Handlers) UpdateLayer(w http.ResponseWriter, r *http.Request) {
	i, err := layerIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, errors.Wrapf(errs.ErrFormat, "invalid request body: %v", err))
		return
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if json.Unmarshal(v, &s) != nil {
			s = string(v)
		}
		fields[k] = s
	}
	state, err := h.ws.UpdateLayer(i, fields)
	if err != nil {
		writeFieldError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) SetParams(w http.ResponseWriter, r *http.Request) {
	params := h.ws.Model().Params
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, errors.Wrapf(errs.ErrFormat, "invalid request body: %v", err))
		return
	}
	state, err := h.ws.SetParams(params)
	if err != nil {
		writeFieldError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.ws.ListModelConfigs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

// SaveConfig stores the builder state and answers with the configuration as
// a download named after its title.
func (h *Handlers) SaveConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, errors.Wrapf(errs.ErrFormat, "invalid request body: %v", err))
			return
		}
	}
	cfg, filename, err := h.ws.SaveModelConfig(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *Handlers) LoadConfig(w http.ResponseWriter, r *http.Request) {
	data, err := h.readDocument(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := h.ws.LoadModelConfig(data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Training

func (h *Handlers) GetTraining(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ws.Training())
}

func (h *Handlers) StartTraining(w http.ResponseWriter, r *http.Request) {
	run, err := h.ws.StartTraining(r.Context())
	if err != nil {
		// A second start while running is a state conflict for the page.
		if errs.Is(err, errs.ErrInvalidArgument) && run.State == training.StateRunning {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (h *Handlers) CancelTraining(w http.ResponseWriter, r *http.Request) {
	run, err := h.ws.CancelTraining()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handlers) TrainingChart(w http.ResponseWriter, r *http.Request) {
	svg, err := h.ws.LossChart(chartWidth, chartHeight)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	_, _ = w.Write(svg)
}

// Events upgrades to a WebSocket that receives every workspace event.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  h.hub,
	}
	h.hub.register <- client

	welcome, _ := json.Marshal(Event{
		Type: "connected",
		Data: map[string]interface{}{"id": client.ID, "dataset": h.ws.Dataset().View, "training": h.ws.Training()},
		Time: time.Now().Unix(),
	})
	select {
	case client.Send <- welcome:
	default:
	}

	go client.readPump()
}
