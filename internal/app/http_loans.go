package app

import "net/http"

func (s *HTTPServer) routeLoans(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	ctx := r.Context()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			page, err := s.service.ListLoans(ctx, LoanQuery{
				Stage:     r.URL.Query().Get("stage"),
				ContactID: r.URL.Query().Get("contactId"),
				Page:      queryInt(r, "page"),
			})
			s.respond(w, http.StatusOK, page, err)
			return true
		case http.MethodPost:
			var body LoanInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			loan, err := s.service.CreateLoan(ctx, session, body)
			s.respond(w, http.StatusCreated, map[string]any{"loan": loan}, err)
			return true
		}
		return false
	}

	if len(parts) == 3 {
		if parts[2] == "pipeline" && r.Method == http.MethodGet {
			groups, err := s.service.LoanPipeline(ctx)
			s.respond(w, http.StatusOK, map[string]any{"stages": groups}, err)
			return true
		}
		id := parts[2]
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetLoan(ctx, id)
			s.respond(w, http.StatusOK, map[string]any{"loan": detail}, err)
			return true
		case http.MethodPut:
			var body LoanInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			loan, err := s.service.UpdateLoan(ctx, session, id, body)
			s.respond(w, http.StatusOK, map[string]any{"loan": loan}, err)
			return true
		case http.MethodDelete:
			err := s.service.DeleteLoan(ctx, id)
			s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
			return true
		}
		return false
	}

	if len(parts) != 4 {
		return false
	}
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
		loan, err := s.service.UpdateLoanStage(ctx, session, id, body.Stage)
		s.respond(w, http.StatusOK, map[string]any{"loan": loan}, err)
		return true
	case parts[3] == "conditions" && r.Method == http.MethodPost:
		var body ConditionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		condition, err := s.service.AddCondition(ctx, session, id, body)
		s.respond(w, http.StatusCreated, map[string]any{"condition": condition}, err)
		return true
	case parts[3] == "activities" && r.Method == http.MethodPost:
		var body struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		activity, err := s.service.AddLoanActivity(ctx, session, id, body.Type, body.Description)
		s.respond(w, http.StatusCreated, map[string]any{"activity": activity}, err)
		return true
	case parts[3] == "submissions" && r.Method == http.MethodGet:
		submissions, err := s.service.ListSubmissions(ctx, id)
		s.respond(w, http.StatusOK, map[string]any{"submissions": submissions}, err)
		return true
	case parts[3] == "submissions" && r.Method == http.MethodPost:
		var body SubmissionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		submission, err := s.service.SubmitToLenders(ctx, session, id, body)
		s.respond(w, http.StatusCreated, map[string]any{"submission": submission}, err)
		return true
	}
	return false
}

func (s *HTTPServer) routeConditions(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) != 4 || parts[3] != "status" || r.Method != http.MethodPut {
		return false
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return true
	}
	condition, err := s.service.UpdateConditionStatus(r.Context(), session, parts[2], body.Status)
	s.respond(w, http.StatusOK, map[string]any{"condition": condition}, err)
	return true
}

func (s *HTTPServer) routeLenders(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	ctx := r.Context()
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		activeOnly := false
		if active := queryBool(r, "active"); active != nil {
			activeOnly = *active
		}
		lenders, err := s.service.ListLenders(ctx, activeOnly)
		s.respond(w, http.StatusOK, map[string]any{"lenders": lenders}, err)
		return true
	case len(parts) == 2 && r.Method == http.MethodPost:
		var body LenderInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		lender, err := s.service.CreateLender(ctx, session, body)
		s.respond(w, http.StatusCreated, map[string]any{"lender": lender}, err)
		return true
	case len(parts) == 3 && r.Method == http.MethodPut:
		var body LenderInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		lender, err := s.service.UpdateLender(ctx, parts[2], body)
		s.respond(w, http.StatusOK, map[string]any{"lender": lender}, err)
		return true
	case len(parts) == 3 && r.Method == http.MethodDelete:
		err := s.service.DeleteLender(ctx, session, parts[2])
		s.respond(w, http.StatusOK, map[string]any{"ok": true}, err)
		return true
	case len(parts) == 4 && parts[3] == "active" && r.Method == http.MethodPut:
		var body struct {
			IsActive bool `json:"isActive"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		lender, err := s.service.SetLenderActive(ctx, parts[2], body.IsActive)
		s.respond(w, http.StatusOK, map[string]any{"lender": lender}, err)
		return true
	}
	return false
}

func (s *HTTPServer) routeQuotes(w http.ResponseWriter, r *http.Request, parts []string) bool {
	if r.Method != http.MethodPut {
		return false
	}
	switch {
	case len(parts) == 4 && parts[3] == "status":
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		quote, err := s.service.UpdateQuoteStatus(r.Context(), parts[2], body.Status)
		s.respond(w, http.StatusOK, map[string]any{"quote": quote}, err)
		return true
	case len(parts) == 3:
		var body QuoteInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		quote, err := s.service.SaveQuote(r.Context(), parts[2], body)
		s.respond(w, http.StatusOK, map[string]any{"quote": quote}, err)
		return true
	}
	return false
}
