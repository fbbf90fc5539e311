package app

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
)

func (s *HTTPServer) routeDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	ctx := r.Context()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			page, err := s.service.ListDocuments(ctx, r.URL.Query().Get("status"), queryInt(r, "page"))
			s.respond(w, http.StatusOK, page, err)
			return true
		case http.MethodPost:
			var body DocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			doc, err := s.service.CreateDocument(ctx, session, body)
			s.respond(w, http.StatusCreated, map[string]any{"document": doc}, err)
			return true
		}
		return false
	}

	id := parts[2]
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetDocument(ctx, id)
			s.respond(w, http.StatusOK, map[string]any{"document": detail}, err)
			return true
		case http.MethodPut:
			var body DocumentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			doc, err := s.service.UpdateDocument(ctx, id, body)
			s.respond(w, http.StatusOK, map[string]any{"document": doc}, err)
			return true
		case http.MethodDelete:
			err := s.service.DeleteDocument(ctx, id)
			s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
			return true
		}
		return false
	}

	if len(parts) == 4 {
		switch {
		case parts[3] == "recipients" && r.Method == http.MethodPost:
			var body RecipientInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			recipient, err := s.service.AddRecipient(ctx, id, body)
			s.respond(w, http.StatusCreated, map[string]any{"recipient": recipient}, err)
			return true
		case parts[3] == "attachments" && r.Method == http.MethodPost:
			var body AttachmentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			attachment, err := s.service.AddAttachment(ctx, id, body)
			s.respond(w, http.StatusCreated, map[string]any{"attachment": attachment}, err)
			return true
		case parts[3] == "fields" && r.Method == http.MethodPost:
			var body FieldInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			field, err := s.service.AddField(ctx, id, body)
			s.respond(w, http.StatusCreated, map[string]any{"field": field}, err)
			return true
		case parts[3] == "send" && r.Method == http.MethodPost:
			detail, err := s.service.SendDocument(ctx, session, id)
			s.respond(w, http.StatusOK, map[string]any{"document": detail}, err)
			return true
		case parts[3] == "void" && r.Method == http.MethodPost:
			doc, err := s.service.VoidDocument(ctx, session, id)
			s.respond(w, http.StatusOK, map[string]any{"document": doc}, err)
			return true
		case parts[3] == "certificate" && r.Method == http.MethodGet:
			result, err := s.service.DownloadCertificate(ctx, session, id)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeFile(w, result)
			return true
		}
		return false
	}

	if len(parts) == 5 && r.Method == http.MethodDelete {
		var err error
		switch parts[3] {
		case "recipients":
			err = s.service.RemoveRecipient(ctx, id, parts[4])
		case "attachments":
			err = s.service.RemoveAttachment(ctx, id, parts[4])
		case "fields":
			err = s.service.RemoveField(ctx, id, parts[4])
		default:
			return false
		}
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		return true
	}
	return false
}

// handleSigning serves the recipient side. The access token in the path is the only credential.
func (s *HTTPServer) handleSigning(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	token := parts[1]
	ip := s.clientIP(r)

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		session, err := s.service.OpenSigningSession(ctx, token, ip)
		s.respond(w, http.StatusOK, session, err)
		return
	case len(parts) == 3 && parts[2] == "viewed" && r.Method == http.MethodPost:
		err := s.service.MarkDocumentViewed(ctx, token, ip)
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		return
	case len(parts) == 3 && parts[2] == "decline" && r.Method == http.MethodPost:
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.service.DeclineDocument(ctx, token, body.Reason, ip)
		s.respond(w, http.StatusOK, map[string]any{"document": doc}, err)
		return
	case len(parts) == 4 && parts[2] == "fields" && r.Method == http.MethodPost:
		var body struct {
			Value string `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SignField(ctx, token, parts[3], body.Value, ip)
		s.respond(w, http.StatusOK, result, err)
		return
	case len(parts) == 4 && parts[2] == "attachments" && r.Method == http.MethodGet:
		attachment, err := s.service.SigningAttachment(ctx, token, parts[3])
		if err != nil {
			s.fail(w, err)
			return
		}
		if len(attachment.FileData) == 0 {
			if attachment.FileURL == "" {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
				return
			}
			http.Redirect(w, r, attachment.FileURL, http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", attachment.MimeType)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", attachmentDisposition(attachment.MimeType), attachment.FileName))
		w.Header().Set("Content-Length", strconv.Itoa(len(attachment.FileData)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(attachment.FileData)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

// attachmentDisposition is inline for PDFs and raster images only.
func attachmentDisposition(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "attachment"
	}
	switch mediaType {
	case "application/pdf", "image/png", "image/jpeg", "image/gif", "image/webp":
		return "inline"
	}
	return "attachment"
}
