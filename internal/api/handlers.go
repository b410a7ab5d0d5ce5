package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	chi "github.com/go-chi/chi/v5"

	"github.com/book-expert/transcription-service/internal/core"
	"github.com/book-expert/transcription-service/internal/store"
	"github.com/book-expert/transcription-service/internal/transcript"
)

type transcribeRequest struct {
	UserID          string   `json:"userId"`
	AudioChunkPaths []string `json:"audioChunkPaths"`
}

type transcribeResponse struct {
	JobID string `json:"jobId"`
}

// handleTranscribe implements POST /transcribe: creates a job and its
// chunks, then enqueues the job for processing.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}

	if req.UserID == "" || len(req.AudioChunkPaths) == 0 {
		httpError(w, http.StatusUnprocessableEntity, "userId and a non-empty audioChunkPaths array are required")
		return
	}

	for _, path := range req.AudioChunkPaths {
		if path == "" {
			httpError(w, http.StatusUnprocessableEntity, "audioChunkPaths must not contain empty strings")
			return
		}
	}

	now := time.Now().UTC()
	jobID := uuid.NewString()

	job := core.Job{
		ID:        jobID,
		UserID:    req.UserID,
		Status:    core.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	chunks := make([]core.AudioChunk, 0, len(req.AudioChunkPaths))

	for i, path := range req.AudioChunkPaths {
		chunks = append(chunks, core.AudioChunk{
			ID:        uuid.NewString(),
			JobID:     jobID,
			Sequence:  i,
			AudioPath: path,
			Status:    core.ChunkPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	ctx := r.Context()

	if err := s.repo.CreateJob(ctx, job, chunks); err != nil {
		storeErr := core.Wrap(core.KindStore, "create job failed", err)
		httpError(w, http.StatusInternalServerError, storeErr.Error())

		return
	}

	if err := s.disp.Enqueue(ctx, jobID); err != nil {
		dispatchErr := core.Wrap(core.KindDispatcher, "job recorded but enqueue failed", err)
		httpError(w, http.StatusServiceUnavailable, dispatchErr.Error())

		return
	}

	writeJSON(w, http.StatusAccepted, transcribeResponse{JobID: jobID})
}

type processTaskRequest struct {
	JobID string `json:"jobId"`
}

// handleProcessTranscriptionTask implements POST /tasks/process-transcription,
// the dispatcher's HTTP entry point for the Webhook realization. It is
// idempotent: ProcessJob tolerates redelivery and concurrent invocation for
// the same jobId.
func (s *Server) handleProcessTranscriptionTask(w http.ResponseWriter, r *http.Request) {
	var req processTaskRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		httpError(w, http.StatusUnprocessableEntity, "invalid task body: jobId is required")
		return
	}

	s.proc.ProcessJob(r.Context(), req.JobID)

	w.WriteHeader(http.StatusNoContent)
}

// handleGetTranscript implements GET /transcript/{jobId}.
func (s *Server) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	withChunks, err := s.repo.GetJobWithChunks(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			httpError(w, http.StatusNotFound, "job not found")
			return
		}

		storeErr := core.Wrap(core.KindStore, "load job failed", err)
		httpError(w, http.StatusInternalServerError, storeErr.Error())

		return
	}

	writeJSON(w, http.StatusOK, transcript.Build(withChunks.Job, withChunks.Chunks))
}

// handleSearchTranscripts implements GET /transcript/search?userId=&jobStatus=.
func (s *Server) handleSearchTranscripts(w http.ResponseWriter, r *http.Request) {
	var filter store.SearchFilter

	if userID := r.URL.Query().Get("userId"); userID != "" {
		filter.UserID = &userID
	}

	if jobStatus := r.URL.Query().Get("jobStatus"); jobStatus != "" {
		status := core.JobStatus(jobStatus)
		filter.Status = &status
	}

	results, err := transcript.Search(r.Context(), s.repo, filter)
	if err != nil {
		storeErr := core.Wrap(core.KindStore, "search failed", err)
		httpError(w, http.StatusInternalServerError, storeErr.Error())

		return
	}

	writeJSON(w, http.StatusOK, results)
}
