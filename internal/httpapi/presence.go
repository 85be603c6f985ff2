package httpapi

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/models"
	"github.com/guiback0/projet-fil-rouge-guiback0-sub002/internal/presence"
)

type dailyPresenceResponse struct {
	UserID string `json:"user_id"`
	presence.DailyWorkingTime
	Anomalies []presence.Anomaly `json:"anomalies"`
}

type periodPresenceResponse struct {
	UserID    string                      `json:"user_id"`
	From      string                      `json:"from"`
	To        string                      `json:"to"`
	Days      []presence.DailyWorkingTime `json:"days"`
	Summary   presence.Summary            `json:"summary"`
	Anomalies []presence.Anomaly          `json:"anomalies"`
}

type organisationPresenceResponse struct {
	OrganisationID string               `json:"organisation_id"`
	From           string               `json:"from"`
	To             string               `json:"to"`
	Users          []userPresenceReport `json:"users"`
}

type userPresenceReport struct {
	User      models.User        `json:"user"`
	Summary   presence.Summary   `json:"summary"`
	Anomalies []presence.Anomaly `json:"anomalies"`
}

func (h *Handler) handleDailyPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if !isValidUUID(userID) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a UUID")
		return
	}
	if !requireUserAccess(w, r, userID) {
		return
	}

	day, err := presence.ParseDate(strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE_FORMAT", "date must be YYYY-MM-DD")
		return
	}

	period, err := h.calculatePeriod(r.Context(), userID, day, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "CALCULATION_ERROR", "failed to compute working time")
		return
	}

	writeJSON(w, http.StatusOK, dailyPresenceResponse{
		UserID:           userID,
		DailyWorkingTime: period.Days[0],
		Anomalies:        presence.DetectAnomalies(period.Days, h.opts.Thresholds),
	})
}

func (h *Handler) handleWeeklyPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if !isValidUUID(userID) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a UUID")
		return
	}
	if !requireUserAccess(w, r, userID) {
		return
	}

	start, err := presence.ParseDate(strings.TrimSpace(r.URL.Query().Get("week_start")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE_FORMAT", "week_start must be YYYY-MM-DD")
		return
	}
	end := presence.WeekRange(start)

	h.writePeriodPresence(w, r.Context(), userID, start, end)
}

func (h *Handler) handleMonthlyPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if !isValidUUID(userID) {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a UUID")
		return
	}
	if !requireUserAccess(w, r, userID) {
		return
	}

	start, end, err := presence.MonthRange(strings.TrimSpace(r.URL.Query().Get("month")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DATE_FORMAT", "month must be YYYY-MM")
		return
	}

	h.writePeriodPresence(w, r.Context(), userID, start, end)
}

func (h *Handler) writePeriodPresence(w http.ResponseWriter, ctx context.Context, userID string, start, end time.Time) {
	period, err := h.calculatePeriod(ctx, userID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "CALCULATION_ERROR", "failed to compute working time")
		return
	}

	writeJSON(w, http.StatusOK, periodPresenceResponse{
		UserID:    userID,
		From:      start.Format("2006-01-02"),
		To:        end.Format("2006-01-02"),
		Days:      period.Days,
		Summary:   presence.Summarize(period),
		Anomalies: presence.DetectAnomalies(period.Days, h.opts.Thresholds),
	})
}

func (h *Handler) handleOrganisationPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	from, to, ok := parseDateRange(w, r, "from", "to")
	if !ok {
		return
	}

	users, err := h.store.ListOrganisationUsers(r.Context(), session.OrganisationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "CALCULATION_ERROR", "failed to load organisation users")
		return
	}

	reports := make([]userPresenceReport, 0, len(users))
	for _, user := range users {
		period, err := h.calculatePeriod(r.Context(), user.UserID, from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "CALCULATION_ERROR", "failed to compute working time")
			return
		}
		reports = append(reports, userPresenceReport{
			User:      user,
			Summary:   presence.Summarize(period),
			Anomalies: presence.DetectAnomalies(period.Days, h.opts.Thresholds),
		})
	}

	writeJSON(w, http.StatusOK, organisationPresenceResponse{
		OrganisationID: session.OrganisationID,
		From:           from.Format("2006-01-02"),
		To:             to.Format("2006-01-02"),
		Users:          reports,
	})
}

// handleOrganisationExport streams the organisation report as CSV. The
// header and column order are a published contract consumed by payroll
// tooling; encoding/csv takes care of quoting names like "Dupont, Jr.".
func (h *Handler) handleOrganisationExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	from, to, ok := parseDateRange(w, r, "from", "to")
	if !ok {
		return
	}

	users, err := h.store.ListOrganisationUsers(r.Context(), session.OrganisationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "CALCULATION_ERROR", "failed to load organisation users")
		return
	}

	type exportRow struct {
		user models.User
		day  presence.DailyWorkingTime
	}
	var rows []exportRow
	for _, user := range users {
		period, err := h.calculatePeriod(r.Context(), user.UserID, from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "CALCULATION_ERROR", "failed to compute working time")
			return
		}
		for _, day := range period.Days {
			rows = append(rows, exportRow{user: user, day: day})
		}
	}

	filename := fmt.Sprintf("presence_%s_%s.csv", from.Format("2006-01-02"), to.Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"Date", "Nom", "Prénom", "Email", "Heures Travaillées", "Statut"})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.day.Date,
			row.user.Nom,
			row.user.Prenom,
			row.user.Email,
			strconv.FormatFloat(row.day.TotalHours, 'f', 2, 64),
			row.day.Status,
		})
	}
	writer.Flush()
}

func (h *Handler) calculatePeriod(ctx context.Context, userID string, start, end time.Time) (presence.WorkingPeriod, error) {
	events, err := h.store.ListUserPointages(ctx, userID, start, end.AddDate(0, 0, 1))
	if err != nil {
		return presence.WorkingPeriod{}, err
	}
	opts := presence.CalculatorOptions{}
	if h.opts.CountOpenSessions {
		opts.CountOpenSessionsToNow = true
		opts.Now = time.Now().UTC()
	}
	return presence.Calculate(events, start, end, opts)
}
