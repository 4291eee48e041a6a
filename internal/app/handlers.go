package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"filedesk/api/internal/search"
	"filedesk/api/internal/store"
	"filedesk/api/internal/workflow"
)

func (s *HTTPServer) handleOpenRecord(w http.ResponseWriter, r *http.Request) {
	target, err := targetFrom(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	view, err := s.service.Workflow().OpenRecord(r.Context(), actorFrom(r), target)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleOpenForEdit(w http.ResponseWriter, r *http.Request) {
	target, err := targetFrom(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	session, err := s.service.Workflow().OpenForEdit(r.Context(), actorFrom(r), target)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleOutstanding(w http.ResponseWriter, r *http.Request) {
	target, err := targetFrom(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	actor := actorFrom(r)
	outstanding, err := s.service.Workflow().HasOutstanding(r.Context(), target, actor.ID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outstanding": outstanding})
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	target, err := targetFrom(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	var body submitRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		s.writeErr(w, r, err)
		return
	}
	proposal, err := s.service.Workflow().Submit(r.Context(), actorFrom(r), workflow.SubmitInput{Target: target, Sites: body.Sites})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (s *HTTPServer) handleListProposals(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListQuery(r.URL.Query())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	items, err := s.service.Workflow().ListProposals(r.Context(), actorFrom(r), filter)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	resp, err := s.service.SearchProposals(r.Context(), actorFrom(r), search.Query{
		Text:   q.Text,
		Status: store.ProposalStatus(q.Status),
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	batch, err := s.service.NextEvents(r.Context(), actorFrom(r), r.URL.Query().Get("cursor"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *HTTPServer) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.service.Workflow().GetProposal(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *HTTPServer) handleViewChanges(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.Workflow().ViewChanges(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.service.Workflow().Events(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	decision, err := s.service.Workflow().Approve(r.Context(), actorFrom(r), mux.Vars(r)["id"])
	if workflow.CodeOf(err) == workflow.CodeSubmitterUnassigned {
		status, code, message, _ := mapError(err)
		writeError(w, status, code, message, map[string]any{"proposal": decision.Proposal})
		return
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request) {
	var body rejectRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		s.writeErr(w, r, err)
		return
	}
	proposal, err := s.service.Workflow().Reject(r.Context(), actorFrom(r), mux.Vars(r)["id"], body.Reason)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Workflow().Delete(r.Context(), actorFrom(r), mux.Vars(r)["id"]); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
