package app

import (
	"net/http"
	"strings"
)

func (s *HTTPServer) routeEmail(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 3 {
		return false
	}
	ctx := r.Context()

	switch parts[2] {
	case "accounts":
		switch {
		case len(parts) == 3 && r.Method == http.MethodGet:
			accounts, err := s.service.ListEmailAccounts(ctx, session)
			s.respond(w, http.StatusOK, map[string]any{"accounts": accounts}, err)
			return true
		case len(parts) == 3 && r.Method == http.MethodPost:
			var body EmailAccountInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			account, err := s.service.CreateEmailAccount(ctx, session, body)
			s.respond(w, http.StatusCreated, map[string]any{"account": account}, err)
			return true
		case len(parts) == 4 && r.Method == http.MethodDelete:
			err := s.service.DeleteEmailAccount(ctx, session, parts[3])
			s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
			return true
		}

	case "sync":
		if len(parts) == 3 && r.Method == http.MethodPost {
			var body struct {
				AccountID string `json:"accountId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			results, err := s.service.SyncEmail(ctx, session, strings.TrimSpace(body.AccountID))
			s.respond(w, http.StatusOK, map[string]any{"results": results}, err)
			return true
		}

	case "send":
		if len(parts) == 3 && r.Method == http.MethodPost {
			var body ComposeInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			msg, err := s.service.ComposeEmail(ctx, session, body)
			s.respond(w, http.StatusCreated, map[string]any{"email": msg}, err)
			return true
		}

	case "messages":
		return s.routeEmailMessages(w, r, session, parts)
	}
	return false
}

func (s *HTTPServer) routeEmailMessages(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	ctx := r.Context()

	if len(parts) == 3 && r.Method == http.MethodGet {
		q := r.URL.Query()
		archived := false
		if v := queryBool(r, "archived"); v != nil {
			archived = *v
		}
		page, err := s.service.ListEmails(ctx, session, EmailQuery{
			AccountID: q.Get("accountId"),
			Direction: q.Get("direction"),
			Archived:  archived,
			Starred:   queryBool(r, "starred"),
			Page:      queryInt(r, "page"),
			Limit:     queryInt(r, "limit"),
		})
		s.respond(w, http.StatusOK, page, err)
		return true
	}

	if len(parts) == 4 {
		switch r.Method {
		case http.MethodGet:
			msg, err := s.service.GetEmail(ctx, session, parts[3])
			s.respond(w, http.StatusOK, map[string]any{"email": msg}, err)
			return true
		case http.MethodDelete:
			err := s.service.DeleteEmail(ctx, session, parts[3])
			s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
			return true
		}
		return false
	}

	if len(parts) != 5 || r.Method != http.MethodPost {
		return false
	}
	id := parts[3]
	switch parts[4] {
	case "read":
		err := s.service.MarkEmailRead(ctx, session, id)
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
	case "star":
		var body struct {
			Starred *bool `json:"starred"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		starred := body.Starred == nil || *body.Starred
		err := s.service.SetEmailStarred(ctx, session, id, starred)
		s.respond(w, http.StatusOK, map[string]any{"ok": true, "starred": starred}, err)
	case "archive":
		err := s.service.ArchiveEmail(ctx, session, id)
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
	case "create-contact":
		result, err := s.service.CreateContactFromEmail(ctx, session, id)
		s.respond(w, http.StatusOK, result, err)
	default:
		return false
	}
	return true
}
