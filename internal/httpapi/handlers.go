package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/service"
)

const laybyPathPrefix = "/api/v1/laybys/"

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleLaybys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		resp, err := a.service.ListLaybys(r.Context(), domain.LaybyFilter{
			Status: strings.TrimSpace(query.Get("status")),
			Search: strings.TrimSpace(query.Get("q")),
			Limit:  parsePositiveLimit(query.Get("limit"), 100, 500),
		})
		if err != nil {
			a.writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req domain.LaybyCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		order, err := a.service.CreateLayby(r.Context(), req)
		if err != nil {
			a.writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"layby": order})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleLaybyActions serves /api/v1/laybys/{id} and its sub-resources.
func (a *API) handleLaybyActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, laybyPathPrefix), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}

	if action == "" {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		order, err := a.service.GetLayby(r.Context(), id)
		if err != nil {
			a.writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"layby": order})
		return
	}

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	switch action {
	case "payments":
		a.handleLaybyPayment(w, r, id)
	case "complete":
		a.handleLaybyComplete(w, r, id)
	case "cancel":
		a.handleLaybyCancel(w, r, id)
	case "reminders":
		order, err := a.service.SendReminder(r.Context(), id)
		if err != nil {
			a.writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"layby": order})
	case "schedule":
		var req domain.LaybyScheduleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		schedule, err := a.service.GenerateSchedule(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"schedule": schedule})
	default:
		writeError(w, http.StatusNotFound, errors.New("not found"))
	}
}

func (a *API) handleLaybyPayment(w http.ResponseWriter, r *http.Request, id string) {
	var req domain.LaybyPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.LaybyID = id
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := a.service.RecordPayment(r.Context(), req)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleLaybyComplete(w http.ResponseWriter, r *http.Request, id string) {
	var req domain.LaybyCompleteRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := a.service.CompleteLayby(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"layby": order})
}

// handleLaybyCancel needs a manager PIN. Guesses are rate limited per client.
func (a *API) handleLaybyCancel(w http.ResponseWriter, r *http.Request, id string) {
	var req domain.LaybyCancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.pinLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		a.log.Warn(a.log.WithField(r.Context(), "layby_id", id), "rejected manager pin")
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	req.LaybyID = id
	order, err := a.service.CancelLayby(r.Context(), req)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"layby": order})
}

func (a *API) handleInterestCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	var selected []string
	for _, raw := range strings.Split(r.URL.Query().Get("selected"), ",") {
		if id := strings.TrimSpace(raw); id != "" {
			selected = append(selected, id)
		}
	}
	resp, err := a.service.ListInterestCandidates(r.Context(), selected)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleInterestApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.InterestApplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ApplyInterest(r.Context(), req)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleOverdueSweep runs the same sweep as the background job, for the
// actor's store only.
func (a *API) handleOverdueSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	resp, err := a.service.RunOverdueSweep(r.Context(), "")
	if err != nil {
		if resp.StoreID == "" {
			a.writeServiceError(r.Context(), w, err)
			return
		}
		a.log.Warn(a.log.WithField(r.Context(), "error", err.Error()), "overdue sweep finished with reminder failures")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := a.service.GetSettings(r.Context())
		if err != nil {
			a.writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req domain.LaybySettings
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		saved, err := a.service.SaveSettings(r.Context(), req)
		if err != nil {
			a.writeServiceError(r.Context(), w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	transactions, err := a.service.ListTransactions(r.Context(), filter)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func (a *API) handleTransactionsExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	filter, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body, err := a.service.ExportTransactionsCSV(r.Context(), filter)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}

	filename := fmt.Sprintf("transactions-%s.csv", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// parseTransactionFilter reads from/to as YYYY-MM-DD. The "to" day is
// inclusive.
func parseTransactionFilter(r *http.Request) (domain.TransactionFilter, error) {
	query := r.URL.Query()
	filter := domain.TransactionFilter{
		Type:   strings.TrimSpace(query.Get("type")),
		Search: strings.TrimSpace(query.Get("q")),
		Limit:  parsePositiveLimit(query.Get("limit"), 200, 1000),
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, errors.New("from must be YYYY-MM-DD")
		}
		filter.From = from.UTC()
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return filter, errors.New("to must be YYYY-MM-DD")
		}
		filter.To = to.UTC().Add(24 * time.Hour)
	}
	return filter, nil
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	summary, err := a.service.DashboardSummary(r.Context())
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"cashiers": a.auth.ListCashiers(r.Context(), actor.StoreID),
		})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cashier, err := a.auth.CreateCashier(r.Context(), actor.StoreID, req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}
