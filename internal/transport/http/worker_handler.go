package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"video-lifecycle-service/internal/entity"
	"video-lifecycle-service/internal/service"
)

// WorkerHandler is the surface the external worker processes talk to.
type WorkerHandler struct {
	lease *service.LeaseService
}

func NewWorkerHandler(lease *service.LeaseService) *WorkerHandler {
	return &WorkerHandler{lease: lease}
}

func jobIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

type claimDTO struct {
	WorkerID string `json:"worker_id"`
}

type updatedResp struct {
	Updated bool `json:"updated"`
}

// Claim godoc
// @Summary Claim the next queued job
// @Description Atomically leases the oldest eligible job to the calling worker. 204 means no work.
// @Tags worker
// @Accept json
// @Produce json
// @Param request body claimDTO true "worker identity"
// @Success 200 {object} entity.ConversionJob
// @Success 204 "no job available"
// @Failure 400 {object} apiError
// @Router /worker/claim [post]
func (h *WorkerHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var dto claimDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := h.lease.Claim(r.Context(), dto.WorkerID)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type stageDTO struct {
	WorkerID string `json:"worker_id"`
	Status   string `json:"status"`
}

// ReportStage godoc
// @Summary Report a sub-phase transition
// @Description Ownership mismatch is a benign no-op: updated=false, stop retrying.
// @Tags worker
// @Accept json
// @Produce json
// @Param id path int true "job id"
// @Param request body stageDTO true "worker id and new stage"
// @Success 200 {object} updatedResp
// @Failure 400 {object} apiError
// @Router /worker/jobs/{id}/status [post]
func (h *WorkerHandler) ReportStage(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var dto stageDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	updated, err := h.lease.ReportStage(r.Context(), dto.WorkerID, id, entity.JobStatus(dto.Status))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updatedResp{Updated: updated})
}

type checkpointDTO struct {
	WorkerID   string `json:"worker_id"`
	Checkpoint string `json:"checkpoint"`
}

// SaveCheckpoint godoc
// @Summary Persist a processing checkpoint
// @Tags worker
// @Accept json
// @Produce json
// @Param id path int true "job id"
// @Param request body checkpointDTO true "worker id and checkpoint marker"
// @Success 200 {object} updatedResp
// @Failure 400 {object} apiError
// @Router /worker/jobs/{id}/checkpoint [post]
func (h *WorkerHandler) SaveCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var dto checkpointDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	updated, err := h.lease.SaveCheckpoint(r.Context(), dto.WorkerID, id, dto.Checkpoint)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updatedResp{Updated: updated})
}

type completeDTO struct {
	WorkerID        string  `json:"worker_id"`
	PublicURL       string  `json:"public_url"`
	ThumbnailKey    string  `json:"thumbnail_key"`
	SizeBytes       int64   `json:"size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	Codec           string  `json:"codec"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// Complete godoc
// @Summary Finish a leased job
// @Description Raw intake cleanup happens before the transition commits; on cleanup failure the job stays leased.
// @Tags worker
// @Accept json
// @Produce json
// @Param id path int true "job id"
// @Param request body completeDTO true "output metadata"
// @Success 200 {object} updatedResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /worker/jobs/{id}/complete [post]
func (h *WorkerHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var dto completeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	updated, err := h.lease.Complete(r.Context(), dto.WorkerID, id, entity.CompletionUpdate{
		PublicURL:    dto.PublicURL,
		ThumbnailKey: dto.ThumbnailKey,
		Output: entity.JobOutput{
			SizeBytes:       dto.SizeBytes,
			DurationSeconds: dto.DurationSeconds,
			Codec:           dto.Codec,
			Width:           dto.Width,
			Height:          dto.Height,
		},
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updatedResp{Updated: updated})
}

type failDTO struct {
	WorkerID string `json:"worker_id"`
	Reason   string `json:"reason"`
}

type failResp struct {
	Updated bool   `json:"updated"`
	Status  string `json:"status,omitempty"`
}

// Fail godoc
// @Summary Report a failed attempt
// @Description Below the retry bound the job requeues; at the bound it terminates FAILED.
// @Tags worker
// @Accept json
// @Produce json
// @Param id path int true "job id"
// @Param request body failDTO true "worker id and failure reason"
// @Success 200 {object} failResp
// @Failure 400 {object} apiError
// @Router /worker/jobs/{id}/fail [post]
func (h *WorkerHandler) Fail(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var dto failDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	status, updated, err := h.lease.Fail(r.Context(), dto.WorkerID, id, dto.Reason)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, failResp{Updated: updated, Status: string(status)})
}

type interruptDTO struct {
	WorkerID   string `json:"worker_id"`
	Checkpoint string `json:"checkpoint"`
}

// Interrupt godoc
// @Summary Release the lease on graceful shutdown
// @Description Preserves the checkpoint so the next claimer resumes instead of restarting.
// @Tags worker
// @Accept json
// @Produce json
// @Param id path int true "job id"
// @Param request body interruptDTO true "worker id and final checkpoint"
// @Success 200 {object} updatedResp
// @Failure 400 {object} apiError
// @Router /worker/jobs/{id}/interrupt [post]
func (h *WorkerHandler) Interrupt(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	var dto interruptDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	updated, err := h.lease.Interrupt(r.Context(), dto.WorkerID, id, dto.Checkpoint)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updatedResp{Updated: updated})
}

type heartbeatDTO struct {
	WorkerID     string `json:"worker_id"`
	Status       string `json:"status"`
	CurrentJobID int64  `json:"current_job_id"`
}

// Heartbeat godoc
// @Summary Report worker liveness
// @Tags worker
// @Accept json
// @Produce json
// @Param request body heartbeatDTO true "worker state"
// @Success 204 "recorded"
// @Failure 400 {object} apiError
// @Router /worker/heartbeat [post]
func (h *WorkerHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var dto heartbeatDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	err := h.lease.Heartbeat(r.Context(), entity.WorkerHeartbeat{
		WorkerID:     dto.WorkerID,
		Status:       dto.Status,
		CurrentJobID: dto.CurrentJobID,
		SeenAt:       time.Now().UTC(),
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
