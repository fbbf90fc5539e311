package app

import (
	"io"
	"net/http"
	"strings"
)

func (s *HTTPServer) routeContacts(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	ctx := r.Context()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			page, err := s.service.ListContacts(ctx, ContactQuery{
				Q:      strings.TrimSpace(q.Get("q")),
				Stage:  q.Get("stage"),
				Source: q.Get("source"),
				TagID:  q.Get("tagId"),
				Page:   queryInt(r, "page"),
				Sort:   q.Get("sort"),
				Order:  q.Get("order"),
			})
			s.respond(w, http.StatusOK, page, err)
			return true
		case http.MethodPost:
			var body ContactInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			contact, err := s.service.CreateContact(ctx, session, body)
			s.respond(w, http.StatusCreated, map[string]any{"contact": contact}, err)
			return true
		}
		return false
	}

	if len(parts) == 3 {
		switch {
		case parts[2] == "pipeline" && r.Method == http.MethodGet:
			groups, err := s.service.ContactPipeline(ctx)
			s.respond(w, http.StatusOK, map[string]any{"stages": groups}, err)
			return true
		case parts[2] == "export" && r.Method == http.MethodGet:
			result, err := s.service.ExportContactsCSV(ctx)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeFile(w, result)
			return true
		case parts[2] == "import" && r.Method == http.MethodPost:
			s.handleContactImport(w, r, session)
			return true
		case parts[2] == "bulk-delete" && r.Method == http.MethodPost:
			var body struct {
				IDs []string `json:"ids"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			deleted, err := s.service.DeleteContacts(ctx, body.IDs)
			s.respond(w, http.StatusOK, map[string]any{"deleted": deleted}, err)
			return true
		}

		id := parts[2]
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetContact(ctx, id)
			s.respond(w, http.StatusOK, map[string]any{"contact": detail}, err)
			return true
		case http.MethodPut:
			var body ContactInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			contact, err := s.service.UpdateContact(ctx, session, id, body)
			s.respond(w, http.StatusOK, map[string]any{"contact": contact}, err)
			return true
		case http.MethodDelete:
			err := s.service.DeleteContact(ctx, id)
			s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
			return true
		}
		return false
	}

	if len(parts) == 4 {
		id := parts[2]
		switch {
		case parts[3] == "stage" && r.Method == http.MethodPut:
			var body struct {
				Stage string `json:"stage"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			contact, err := s.service.UpdateContactStage(ctx, session, id, body.Stage)
			s.respond(w, http.StatusOK, map[string]any{"contact": contact}, err)
			return true
		case parts[3] == "tags" && r.Method == http.MethodPut:
			var body struct {
				TagIDs []string `json:"tagIds"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			contact, err := s.service.AssignTags(ctx, session, id, body.TagIDs)
			s.respond(w, http.StatusOK, map[string]any{"contact": contact}, err)
			return true
		case parts[3] == "notes" && r.Method == http.MethodPost:
			var body struct {
				Content string `json:"content"`
				Pinned  bool   `json:"pinned"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			note, err := s.service.AddNote(ctx, session, id, body.Content, body.Pinned)
			s.respond(w, http.StatusCreated, map[string]any{"note": note}, err)
			return true
		}
	}
	return false
}

// handleContactImport accepts a multipart "file" upload, a JSON {"rows": [...]} body,
// or a raw CSV body.
func (s *HTTPServer) handleContactImport(w http.ResponseWriter, r *http.Request, session Session) {
	contentType := r.Header.Get("Content-Type")
	var (
		result ImportResult
		err    error
	)
	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		file, _, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "CSV file is required", nil)
			return
		}
		defer file.Close()
		result, err = s.service.ImportContactsCSV(r.Context(), session, file)
	case strings.HasPrefix(contentType, "application/json"):
		var body struct {
			Rows []ContactInput `json:"rows"`
		}
		if derr := decodeBody(r, &body); derr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", derr.Error(), nil)
			return
		}
		result, err = s.service.ImportContacts(r.Context(), session, body.Rows)
	default:
		var body io.Reader = r.Body
		if body == nil {
			body = strings.NewReader("")
		}
		result, err = s.service.ImportContactsCSV(r.Context(), session, body)
	}
	s.respond(w, http.StatusOK, result, err)
}

func (s *HTTPServer) routeNotes(w http.ResponseWriter, r *http.Request, parts []string) bool {
	if len(parts) != 3 {
		return false
	}
	id := parts[2]
	switch r.Method {
	case http.MethodPut:
		var body NoteUpdate
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		note, err := s.service.UpdateNote(r.Context(), id, body)
		s.respond(w, http.StatusOK, map[string]any{"note": note}, err)
		return true
	case http.MethodDelete:
		err := s.service.DeleteNote(r.Context(), id)
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		return true
	}
	return false
}

func (s *HTTPServer) routeTags(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	ctx := r.Context()
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		tags, err := s.service.ListTags(ctx)
		s.respond(w, http.StatusOK, map[string]any{"tags": tags}, err)
		return true
	case len(parts) == 2 && r.Method == http.MethodPost:
		var body TagInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		tag, err := s.service.CreateTag(ctx, session, body)
		s.respond(w, http.StatusCreated, map[string]any{"tag": tag}, err)
		return true
	case len(parts) == 3 && r.Method == http.MethodPut:
		var body TagInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		tag, err := s.service.UpdateTag(ctx, parts[2], body)
		s.respond(w, http.StatusOK, map[string]any{"tag": tag}, err)
		return true
	case len(parts) == 3 && r.Method == http.MethodDelete:
		err := s.service.DeleteTag(ctx, parts[2])
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		return true
	}
	return false
}

func (s *HTTPServer) routeFollowUps(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	ctx := r.Context()
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		q := r.URL.Query()
		items, err := s.service.ListFollowUps(ctx, FollowUpQuery{
			From:   q.Get("from"),
			To:     q.Get("to"),
			Status: q.Get("status"),
		})
		s.respond(w, http.StatusOK, map[string]any{"followUps": items}, err)
		return true
	case len(parts) == 2 && r.Method == http.MethodPost:
		var body FollowUpInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		item, err := s.service.CreateFollowUp(ctx, session, body)
		s.respond(w, http.StatusCreated, map[string]any{"followUp": item}, err)
		return true
	case len(parts) == 3 && r.Method == http.MethodPut:
		var body FollowUpInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		item, err := s.service.UpdateFollowUp(ctx, parts[2], body)
		s.respond(w, http.StatusOK, map[string]any{"followUp": item}, err)
		return true
	case len(parts) == 3 && r.Method == http.MethodDelete:
		err := s.service.DeleteFollowUp(ctx, parts[2])
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		return true
	case len(parts) == 4 && parts[3] == "complete" && r.Method == http.MethodPost:
		item, err := s.service.CompleteFollowUp(ctx, parts[2])
		s.respond(w, http.StatusOK, map[string]any{"followUp": item}, err)
		return true
	case len(parts) == 4 && parts[3] == "reschedule" && r.Method == http.MethodPost:
		var body struct {
			DueDate string `json:"dueDate"`
			DueTime string `json:"dueTime"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		item, err := s.service.RescheduleFollowUp(ctx, parts[2], body.DueDate, body.DueTime)
		s.respond(w, http.StatusOK, map[string]any{"followUp": item}, err)
		return true
	}
	return false
}
