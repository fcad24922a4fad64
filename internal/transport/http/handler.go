package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"video-lifecycle-service/internal/entity"
	"video-lifecycle-service/internal/service"
)

// Handler is the client-facing surface: upload admission and the
// storage lifecycle operations.
type Handler struct {
	admission *service.AdmissionService
	lifecycle *service.LifecycleService
	lease     *service.LeaseService
}

func NewHandler(admission *service.AdmissionService, lifecycle *service.LifecycleService, lease *service.LeaseService) *Handler {
	return &Handler{admission: admission, lifecycle: lifecycle, lease: lease}
}

type createUploadDTO struct {
	Filename          string   `json:"filename"`
	DeclaredSize      int64    `json:"declared_size"`
	FolderID          *int64   `json:"folder_id,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Quality           string   `json:"quality,omitempty"`
	ProcessingProfile string   `json:"processing_profile,omitempty"`
}

// CreateUpload godoc
// @Summary Request an upload slot
// @Description Creates a queued job and a short-lived single-use token bound to the expected storage key.
// @Tags uploads
// @Accept json
// @Produce json
// @Param request body createUploadDTO true "upload declaration"
// @Success 201 {object} service.UploadSlot
// @Failure 400 {object} apiError
// @Router /uploads [post]
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	var dto createUploadDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	slot, err := h.admission.CreateUpload(r.Context(), identityFrom(r), service.UploadRequest{
		Filename:          dto.Filename,
		DeclaredSize:      dto.DeclaredSize,
		FolderID:          dto.FolderID,
		Tags:              dto.Tags,
		Quality:           dto.Quality,
		ProcessingProfile: dto.ProcessingProfile,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

type completeUploadDTO struct {
	Token string `json:"token"`
}

type jobIDResp struct {
	JobID int64 `json:"job_id"`
}

// CompleteUpload godoc
// @Summary Confirm a finished upload
// @Description Redeems the token, verifies the object at the expected key within the size tolerance band.
// @Tags uploads
// @Accept json
// @Produce json
// @Param request body completeUploadDTO true "upload token"
// @Success 200 {object} jobIDResp
// @Failure 400 {object} apiError
// @Failure 409 {object} apiError
// @Router /uploads/complete [post]
func (h *Handler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	var dto completeUploadDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	jobID, err := h.admission.CompleteUpload(r.Context(), identityFrom(r), dto.Token)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobIDResp{JobID: jobID})
}

type createImportDTO struct {
	SourceURL         string   `json:"source_url"`
	FolderID          *int64   `json:"folder_id,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Quality           string   `json:"quality,omitempty"`
	ProcessingProfile string   `json:"processing_profile,omitempty"`
}

// CreateImport godoc
// @Summary Queue a URL import
// @Tags uploads
// @Accept json
// @Produce json
// @Param request body createImportDTO true "import declaration"
// @Success 201 {object} jobIDResp
// @Failure 400 {object} apiError
// @Router /imports [post]
func (h *Handler) CreateImport(w http.ResponseWriter, r *http.Request) {
	var dto createImportDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.admission.CreateURLImport(r.Context(), identityFrom(r), service.ImportRequest{
		SourceURL:         dto.SourceURL,
		FolderID:          dto.FolderID,
		Tags:              dto.Tags,
		Quality:           dto.Quality,
		ProcessingProfile: dto.ProcessingProfile,
	})
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, jobIDResp{JobID: id})
}

// GetJob godoc
// @Summary Fetch one job
// @Tags jobs
// @Produce json
// @Param id path int true "job id"
// @Success 200 {object} entity.ConversionJob
// @Failure 403 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.lifecycle.GetJob(r.Context(), identityFrom(r), id)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs godoc
// @Summary Fetch several jobs by id
// @Description Jobs the caller cannot access are omitted from the result, not errored.
// @Tags jobs
// @Produce json
// @Param ids query string true "comma-separated job ids"
// @Success 200 {array} entity.ConversionJob
// @Failure 400 {object} apiError
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid ids")
		return
	}

	jobs, err := h.lifecycle.ListJobs(r.Context(), identityFrom(r), ids)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, strconv.ErrSyntax
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteJob godoc
// @Summary Soft-delete a job
// @Description Moves every owned object to trash all-or-nothing; on any move failure the deletion aborts with the job state intact.
// @Tags jobs
// @Produce json
// @Param id path int true "job id"
// @Success 204 "deleted"
// @Failure 403 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id} [delete]
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.lifecycle.SoftDelete(r.Context(), identityFrom(r), id); err != nil {
		writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreJob godoc
// @Summary Restore a soft-deleted job
// @Tags jobs
// @Produce json
// @Param id path int true "job id"
// @Success 204 "restored"
// @Failure 403 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/restore [post]
func (h *Handler) RestoreJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.lifecycle.Restore(r.Context(), identityFrom(r), id); err != nil {
		writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PurgeJob godoc
// @Summary Permanently purge a job
// @Tags jobs
// @Produce json
// @Param id path int true "job id"
// @Success 204 "purged"
// @Failure 403 {object} apiError
// @Router /jobs/{id}/purge [delete]
func (h *Handler) PurgeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.lifecycle.Purge(r.Context(), identityFrom(r), id); err != nil {
		writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelJob godoc
// @Summary Cancel a pending upload
// @Tags jobs
// @Produce json
// @Param id path int true "job id"
// @Success 204 "cancelled"
// @Failure 409 {object} apiError
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.lifecycle.Cancel(r.Context(), identityFrom(r), id); err != nil {
		writeServiceErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkDTO struct {
	IDs []int64 `json:"ids"`
}

func (h *Handler) bulkOp(w http.ResponseWriter, r *http.Request, op func(*http.Request, []int64) (*service.BulkResult, error)) {
	var dto bulkDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(dto.IDs) == 0 {
		writeErr(w, http.StatusBadRequest, "ids are required")
		return
	}

	res, err := op(r, dto.IDs)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BulkDelete godoc
// @Summary Soft-delete many jobs
// @Description Each job's saga is independent; skipped jobs are reported separately from successes.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body bulkDTO true "job ids"
// @Success 200 {object} service.BulkResult
// @Router /jobs/bulk/delete [post]
func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	h.bulkOp(w, r, func(r *http.Request, ids []int64) (*service.BulkResult, error) {
		return h.lifecycle.BulkSoftDelete(r.Context(), identityFrom(r), ids)
	})
}

// BulkRestore godoc
// @Summary Restore many jobs
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body bulkDTO true "job ids"
// @Success 200 {object} service.BulkResult
// @Router /jobs/bulk/restore [post]
func (h *Handler) BulkRestore(w http.ResponseWriter, r *http.Request) {
	h.bulkOp(w, r, func(r *http.Request, ids []int64) (*service.BulkResult, error) {
		return h.lifecycle.BulkRestore(r.Context(), identityFrom(r), ids)
	})
}

// BulkPurge godoc
// @Summary Purge many jobs
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body bulkDTO true "job ids"
// @Success 200 {object} service.BulkResult
// @Router /jobs/bulk/purge [post]
func (h *Handler) BulkPurge(w http.ResponseWriter, r *http.Request) {
	h.bulkOp(w, r, func(r *http.Request, ids []int64) (*service.BulkResult, error) {
		return h.lifecycle.BulkPurge(r.Context(), identityFrom(r), ids)
	})
}

type retryInterruptedDTO struct {
	IDs []int64 `json:"ids,omitempty"`
}

type countResp struct {
	Requeued int64 `json:"requeued"`
}

// RetryInterrupted godoc
// @Summary Requeue interrupted jobs
// @Description Checkpoints survive, so the next claimer resumes mid-pipeline. Empty ids means all interrupted jobs.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body retryInterruptedDTO true "job ids, optional"
// @Success 200 {object} countResp
// @Failure 403 {object} apiError
// @Router /jobs/interrupted/retry [post]
func (h *Handler) RetryInterrupted(w http.ResponseWriter, r *http.Request) {
	var dto retryInterruptedDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	n, err := h.lease.RetryInterrupted(r.Context(), identityFrom(r), dto.IDs)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResp{Requeued: n})
}

// ListWorkers godoc
// @Summary List known workers and their last heartbeat
// @Tags workers
// @Produce json
// @Success 200 {array} entity.WorkerHeartbeat
// @Router /workers [get]
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	beats, err := h.lease.Workers(r.Context())
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	if beats == nil {
		beats = []entity.WorkerHeartbeat{}
	}
	writeJSON(w, http.StatusOK, beats)
}
