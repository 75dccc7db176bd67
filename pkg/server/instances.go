package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elektrummon/elektrummon/pkg/log"
	"github.com/elektrummon/elektrummon/pkg/monitor"
	"github.com/elektrummon/elektrummon/pkg/storage"
	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/elektrummon/elektrummon/pkg/utility"
)

const (
	metricName        = "Elektrum Energy Monitor"
	metricUnit        = "kWh"
	metricDeviceClass = "energy"
	metricStateClass  = "measurement"
)

type metricAttributes struct {
	HourlyConsumption     types.HourlyReading `json:"hourly_consumption"`
	HistoricalConsumption types.DailyHistory  `json:"historical_consumption"`
}

// metricPayload is the exposed energy metric of one instance. State is null
// until the first successful refresh.
type metricPayload struct {
	ID           string           `json:"id"`
	InstanceName string           `json:"instanceName"`
	Name         string           `json:"name"`
	UniqueID     string           `json:"uniqueID"`
	Unit         string           `json:"unit"`
	DeviceClass  string           `json:"deviceClass"`
	StateClass   string           `json:"stateClass"`
	State        *float64         `json:"state"`
	Date         string           `json:"date,omitempty"`
	Phase        monitor.Phase    `json:"phase"`
	LastError    string           `json:"lastError,omitempty"`
	UpdatedAt    *time.Time       `json:"updatedAt,omitempty"`
	Attributes   metricAttributes `json:"attributes"`
}

func newMetricPayload(m *monitor.Monitor, state types.MonitorState) metricPayload {
	p := metricPayload{
		ID:           m.ID(),
		InstanceName: m.Name(),
		Name:         metricName,
		UniqueID:     monitor.UniqueID(m.Username()),
		Unit:         metricUnit,
		DeviceClass:  metricDeviceClass,
		StateClass:   metricStateClass,
		Date:         state.CurrentDate,
		Phase:        m.Phase(),
		Attributes: metricAttributes{
			HourlyConsumption:     state.CurrentDayHourly,
			HistoricalConsumption: state.History,
		},
	}
	if p.Attributes.HistoricalConsumption == nil {
		p.Attributes.HistoricalConsumption = types.DailyHistory{}
	}
	if state.HasData() {
		total := state.CurrentTotal
		p.State = &total
		updated := state.UpdatedAt
		p.UpdatedAt = &updated
	}
	if err := m.LastError(); err != nil {
		p.LastError = utility.ErrorKind(err)
	}
	return p
}

// LoadInstances registers a monitor for every stored instance. An instance
// whose credentials can't be decrypted is logged and skipped.
func (s *Server) LoadInstances(ctx context.Context) error {
	instances, err := s.storage.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}
	for _, instance := range instances {
		ictx := log.WithAttrs(ctx, slog.String("instanceID", instance.ID))
		creds, err := s.decryptCredentials(ictx, instance.EncryptedCredentials)
		if err != nil {
			log.Ctx(ictx).ErrorContext(ictx, "skipping instance with unreadable credentials", slog.Any("error", err))
			continue
		}
		if _, err := s.registry.Configure(instance.ID, creds, monitor.WithName(instance.Name)); err != nil {
			log.Ctx(ictx).ErrorContext(ictx, "failed to configure instance", slog.Any("error", err))
			continue
		}
		log.Ctx(ictx).InfoContext(ictx, "loaded instance")
	}
	return nil
}

type instanceSummary struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Phase monitor.Phase `json:"phase"`
	State *float64      `json:"state"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	monitors := s.registry.List()
	list := make([]instanceSummary, 0, len(monitors))
	for _, m := range monitors {
		state := m.State()
		summary := instanceSummary{
			ID:    m.ID(),
			Name:  m.Name(),
			Phase: m.Phase(),
		}
		if state.HasData() {
			total := state.CurrentTotal
			summary.State = &total
		}
		list = append(list, summary)
	}
	writeJSON(w, list, http.StatusOK)
}

type createInstanceRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createInstanceRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode instance", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	creds := types.Credentials{Username: req.Username, Password: req.Password}
	if !creds.Valid() {
		writeJSONError(w, "username and password are required", http.StatusBadRequest)
		return
	}
	id := req.ID
	if id == "" {
		id = monitor.UniqueID(creds.Username)
	}
	ctx = log.WithAttrs(ctx, slog.String("instanceID", id))

	if _, err := s.registry.Get(id); err == nil {
		writeJSONError(w, "instance already configured", http.StatusConflict)
		return
	}

	// the credentials must work before anything is stored
	if err := s.registry.CheckCredentials(ctx, creds); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "credentials rejected", slog.Any("error", err))
		writeJSONError(w, "auth", http.StatusBadRequest)
		return
	}

	encrypted, err := s.encryptCredentials(ctx, creds)
	if err != nil {
		writeJSONError(w, "failed to encrypt credentials", http.StatusInternalServerError)
		return
	}
	instance := types.Instance{
		ID:                   id,
		Name:                 req.Name,
		Username:             creds.Username,
		EncryptedCredentials: encrypted,
		CreatedAt:            s.now().UTC(),
	}

	m, err := s.registry.Configure(id, creds, monitor.WithName(req.Name))
	if err != nil {
		if errors.Is(err, monitor.ErrInstanceExists) {
			writeJSONError(w, "instance already configured", http.StatusConflict)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to configure instance", slog.Any("error", err))
		writeJSONError(w, "failed to configure instance", http.StatusInternalServerError)
		return
	}
	if err := s.storage.PutInstance(ctx, instance); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to store instance", slog.Any("error", err))
		if rerr := s.registry.Remove(id); rerr != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to unregister instance", slog.Any("error", rerr))
		}
		writeJSONError(w, "failed to store instance", http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "configured instance")
	writeJSON(w, newMetricPayload(m, m.State()), http.StatusCreated)
}

func (s *Server) monitorFromPath(w http.ResponseWriter, r *http.Request) (*monitor.Monitor, bool) {
	m, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, "instance not found", http.StatusNotFound)
		return nil, false
	}
	return m, true
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	m, ok := s.monitorFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, newMetricPayload(m, m.State()), http.StatusOK)
}

func (s *Server) handleRefreshInstance(w http.ResponseWriter, r *http.Request) {
	m, ok := s.monitorFromPath(w, r)
	if !ok {
		return
	}
	state, err := m.Refresh(r.Context())
	if err != nil {
		if errors.Is(err, monitor.ErrRefreshInProgress) {
			writeJSONError(w, "refresh in progress", http.StatusConflict)
			return
		}
		writeJSONError(w, utility.ErrorKind(err), http.StatusBadGateway)
		return
	}
	writeJSON(w, newMetricPayload(m, state), http.StatusOK)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	ctx = log.WithAttrs(ctx, slog.String("instanceID", id))

	err := s.storage.DeleteInstance(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrInstanceNotFound) {
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete instance", slog.Any("error", err))
		writeJSONError(w, "failed to delete instance", http.StatusInternalServerError)
		return
	}
	rerr := s.registry.Remove(id)
	if err != nil && rerr != nil {
		writeJSONError(w, "instance not found", http.StatusNotFound)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "unloaded instance")
	w.WriteHeader(http.StatusNoContent)
}
