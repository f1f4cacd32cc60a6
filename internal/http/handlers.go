package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"carfond/internal/core"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type benefitRow struct {
	MemberID        int64  `json:"member_id"`
	Name            string `json:"name"`
	AnnualSum       string `json:"annual_sum,omitempty"`
	DecemberBalance string `json:"december_balance"`
	Benefit         string `json:"benefit"`
}

func toBenefitRow(m core.MemberBenefit) benefitRow {
	return benefitRow{
		MemberID:        m.MemberID,
		Name:            m.Name,
		AnnualSum:       m.AnnualSum.StringFixed(2),
		DecemberBalance: m.DecemberBalance.StringFixed(2),
		Benefit:         m.Benefit.StringFixed(2),
	}
}

func (s *Server) handleBenefits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleComputeBenefits(w, r)
	case http.MethodGet:
		s.handleListBenefits(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleComputeBenefits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Year   int    `json:"year"`
		Profit string `json:"profit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	profit, err := core.ParseAmount(req.Profit)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.ledger.ComputeBenefits(r.Context(), req.Year, profit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Benefit allocation failed",
			"year", req.Year, "error", err)
		writeError(w, err)
		return
	}

	rows := make([]benefitRow, 0, len(result.Members))
	for _, m := range result.Members {
		rows = append(rows, toBenefitRow(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"year":          req.Year,
		"profit":        profit.StringFixed(2),
		"total_balance": result.TotalBalance.StringFixed(2),
		"members":       rows,
		"missing_names": result.MissingNames,
	})
}

func (s *Server) handleListBenefits(w http.ResponseWriter, r *http.Request) {
	benefits, err := s.ledger.ListBenefits(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Listing benefits failed", "error", err)
		writeError(w, err)
		return
	}

	// The stored result table keeps no annual sums, only the outcome.
	rows := make([]benefitRow, 0, len(benefits))
	for _, b := range benefits {
		rows = append(rows, benefitRow{
			MemberID:        b.MemberID,
			Name:            b.Name,
			DecemberBalance: b.DecemberBalance.StringFixed(2),
			Benefit:         b.Benefit.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"benefits": rows})
}

func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleGenerateMonth(w, r)
	case http.MethodDelete:
		s.handleDeleteMonth(w, r)
	default:
		methodNotAllowed(w, "POST, DELETE")
	}
}

func (s *Server) handleGenerateMonth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Month     int  `json:"month"`
		Year      int  `json:"year"`
		Overwrite bool `json:"overwrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	summary, err := s.ledger.GenerateMonth(r.Context(), req.Month, req.Year, req.Overwrite)
	if err != nil {
		slog.ErrorContext(r.Context(), "Month generation failed",
			"month", req.Month, "year", req.Year, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"month":                  summary.Month,
		"year":                   summary.Year,
		"active_members":         summary.ActiveMembers,
		"generated_rows":         summary.GeneratedRows,
		"skipped_missing_source": summary.SkippedMissingSource,
		"loan_interest_count":    summary.TotalLoanInterestCount,
		"loan_interest_sum":      summary.TotalLoanInterestSum.StringFixed(2),
		"total_loan_balance":     summary.TotalLoanBalance.StringFixed(2),
		"total_deposit_balance":  summary.TotalDepositBalance.StringFixed(2),
	})
}

func (s *Server) handleDeleteMonth(w http.ResponseWriter, r *http.Request) {
	month, okM := queryInt(r, "month")
	year, okY := queryInt(r, "year")
	if !okM || !okY {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "month and year query parameters are required"})
		return
	}

	if err := s.ledger.RemoveMonth(r.Context(), month, year); err != nil {
		slog.ErrorContext(r.Context(), "Month deletion failed",
			"month", month, "year", year, "error", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInterest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	memberID, okID := queryInt64(r, "member")
	month, okM := queryInt(r, "month")
	year, okY := queryInt(r, "year")
	if !okID || !okM || !okY {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "member, month and year query parameters are required"})
		return
	}

	rate := decimal.Zero
	if raw := r.URL.Query().Get("rate"); raw != "" {
		parsed, err := core.ParseAmount(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid rate"})
			return
		}
		rate = parsed
	}

	result, err := s.ledger.InterestToDate(r.Context(), memberID, month, year, rate)
	if err != nil {
		slog.ErrorContext(r.Context(), "Interest computation failed",
			"member_id", memberID, "month", month, "year", year, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"member_id":    memberID,
		"start_period": result.StartPeriod,
		"balance_sum":  result.BalanceSum.StringFixed(2),
		"interest":     result.Interest.StringFixed(2),
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	amount, err := core.ParseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, err)
		return
	}
	rate, err := core.ParseAmount(r.URL.Query().Get("rate"))
	if err != nil {
		writeError(w, err)
		return
	}
	direction := core.ConversionDirection(r.URL.Query().Get("direction"))

	converted, err := core.ConvertCurrency(amount, rate, direction)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"amount":    amount.StringFixed(2),
		"rate":      rate.String(),
		"direction": direction,
		"result":    converted.StringFixed(2),
	})
}
