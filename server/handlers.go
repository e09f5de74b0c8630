package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sweetpotato0/ai-research/audit"
	"github.com/sweetpotato0/ai-research/cache"
	errorskg "github.com/sweetpotato0/ai-research/errors"
	"github.com/sweetpotato0/ai-research/gateway/search"
	"github.com/sweetpotato0/ai-research/middleware"
)

const auditTimeout = 5 * time.Second

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errorskg.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) endUser(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.defaultEndUser
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.Research(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Research validates req, runs the workflow and records the run. Passing responses
// are served from the response cache, per end user, when one is configured.
func (s *Server) Research(ctx context.Context, req Request) (Response, error) {
	question := strings.TrimSpace(req.Query)
	if question == "" {
		return Response{}, fmt.Errorf("%w: query is required", errorskg.ErrInvalidInput)
	}
	endUser := s.endUser(req.EndUserID)

	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	run := func(ctx context.Context) (Response, error) {
		started := time.Now()
		st, err := s.runner.Run(ctx, question, endUser)
		s.record(ctx, audit.NewRun(question, endUser, st, err, started))
		if err != nil {
			return Response{}, err
		}
		return NewResponse(st), nil
	}

	if s.store == nil || s.responseTTL <= 0 {
		return run(ctx)
	}
	return cache.MemoizeWhen(ctx, s.store, "response", responseKey(endUser, question), s.responseTTL, Response.Passed, run)
}

// responseKey scopes cached answers to the end user whose documents grounded them.
func responseKey(endUser, question string) string {
	return endUser + "\x00" + question
}

func (s *Server) record(ctx context.Context, run *audit.Run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.sink.Record(ctx, run); err != nil {
		s.logger.Warn("failed to record run", "run_id", run.ID, "error", err)
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, fmt.Errorf("%w: limit must be between 1 and 500", errorskg.ErrInvalidInput))
			return
		}
		limit = n
	}
	runs, err := s.sink.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errorskg.ErrInternal, err))
		return
	}
	if runs == nil {
		runs = []*audit.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.sink.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// searchRAGResponse mirrors the RAG gateway answer for direct callers.
type searchRAGResponse struct {
	OutputText         string          `json:"output_text"`
	RelevanceScores    json.RawMessage `json:"output_relevance_scores,omitempty"`
	SourceFiles        json.RawMessage `json:"output_file_names,omitempty"`
	GroundedQA         json.RawMessage `json:"output_groundings,omitempty"`
	SuggestedFollowups json.RawMessage `json:"output_next_questions,omitempty"`
}

func (s *Server) handleSearchRAG(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	question := strings.TrimSpace(req.Query)
	if question == "" {
		writeError(w, fmt.Errorf("%w: query is required", errorskg.ErrInvalidInput))
		return
	}
	ans, err := s.rag.Ask(r.Context(), question, s.endUser(req.EndUserID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchRAGResponse{
		OutputText:         ans.OutputText,
		RelevanceScores:    ans.RelevanceScores,
		SourceFiles:        ans.SourceFiles,
		GroundedQA:         ans.GroundedQA,
		SuggestedFollowups: ans.SuggestedFollowups,
	})
}

// WebsearchRequest is the body of POST /mcp/Websearch. CSEID is accepted from older
// clients; the configured engine always answers.
type WebsearchRequest struct {
	Query string `json:"query"`
	Count int    `json:"count,omitempty"`
	CSEID string `json:"cse_id,omitempty"`
}

// WebsearchResponse is returned by POST /mcp/Websearch.
type WebsearchResponse struct {
	Results []search.Result `json:"results"`
}

// Websearch runs one search query. Empty queries are rejected.
func (s *Server) Websearch(ctx context.Context, req WebsearchRequest) (WebsearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return WebsearchResponse{}, fmt.Errorf("%w: query is required", errorskg.ErrInvalidInput)
	}
	count := req.Count
	if count <= 0 {
		count = search.MaxResults
	}
	results, err := s.search.Search(ctx, query, count)
	if err != nil {
		return WebsearchResponse{}, err
	}
	if results == nil {
		results = []search.Result{}
	}
	return WebsearchResponse{Results: results}, nil
}

func (s *Server) handleWebsearch(w http.ResponseWriter, r *http.Request) {
	var req WebsearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	resp, err := s.Websearch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status describes which optional components are enabled.
type Status struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RAG           bool   `json:"rag"`
	Websearch     bool   `json:"websearch"`
	ResponseCache bool   `json:"response_cache"`
	RequestID     string `json:"request_id,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Status{
		Status:        "ok",
		Version:       s.version,
		RAG:           s.rag != nil,
		Websearch:     s.search != nil,
		ResponseCache: s.store != nil && s.responseTTL > 0,
		RequestID:     middleware.RequestID(r.Context()),
	})
}
