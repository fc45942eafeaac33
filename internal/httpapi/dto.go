package httpapi

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
	"github.com/tinoosan/fintrack/internal/service/auth"
	"github.com/tinoosan/fintrack/internal/service/pot"
	"github.com/tinoosan/fintrack/internal/service/transaction"
)

// Requests. Amounts arrive as JSON numbers in major units and are converted
// to minor units with ledger.ParseAmount.

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     *string `json:"name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type postTransactionRequest struct {
	Avatar    string          `json:"avatar"`
	Name      string          `json:"name"`
	Category  ledger.Category `json:"category"`
	Date      string          `json:"date"`
	Amount    json.Number     `json:"amount"`
	Recurring bool            `json:"recurring"`
}

type patchTransactionRequest struct {
	Avatar    *string          `json:"avatar"`
	Name      *string          `json:"name"`
	Category  *ledger.Category `json:"category"`
	Date      *string          `json:"date"`
	Amount    *json.Number     `json:"amount"`
	Recurring *bool            `json:"recurring"`
}

type postBudgetRequest struct {
	Category ledger.Category `json:"category"`
	Maximum  json.Number     `json:"maximum"`
	Theme    string          `json:"theme"`
}

type patchBudgetRequest struct {
	Category *ledger.Category `json:"category"`
	Maximum  *json.Number     `json:"maximum"`
	Theme    *string          `json:"theme"`
}

type postPotRequest struct {
	Name   string      `json:"name"`
	Target json.Number `json:"target"`
	Theme  string      `json:"theme"`
}

type patchPotRequest struct {
	Name   *string      `json:"name"`
	Target *json.Number `json:"target"`
	Theme  *string      `json:"theme"`
}

type potAmountRequest struct {
	Amount json.Number `json:"amount"`
}

type postBillRequest struct {
	VendorName string          `json:"vendor_name"`
	Avatar     string          `json:"avatar"`
	Amount     json.Number     `json:"amount"`
	DueDay     int             `json:"due_day"`
	Category   ledger.Category `json:"category"`
	Theme      string          `json:"theme"`
}

type patchBillRequest struct {
	VendorName *string          `json:"vendor_name"`
	Avatar     *string          `json:"avatar"`
	Amount     *json.Number     `json:"amount"`
	DueDay     *int             `json:"due_day"`
	Category   *ledger.Category `json:"category"`
	Theme      *string          `json:"theme"`
}

// parseAmount converts a required JSON amount field.
func parseAmount(field string, n json.Number) (int64, error) {
	if n == "" {
		return 0, errs.Invalid("%s is required", field)
	}
	v, err := ledger.ParseAmount(n.String())
	if err != nil {
		return 0, errs.Invalid("%s must be a number with at most two decimals", field)
	}
	return v, nil
}

func parseOptionalAmount(field string, n *json.Number) (*int64, error) {
	if n == nil {
		return nil, nil
	}
	v, err := parseAmount(field, *n)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// parseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates (UTC midnight).
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errs.Invalid("date is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, errs.Invalid("date must be RFC 3339 or YYYY-MM-DD")
}

func (req postTransactionRequest) toInput() (transaction.Input, error) {
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return transaction.Input{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return transaction.Input{}, err
	}
	return transaction.Input{
		Avatar:    req.Avatar,
		Name:      req.Name,
		Category:  req.Category,
		Date:      date,
		Amount:    amount,
		Recurring: req.Recurring,
	}, nil
}

func (req patchTransactionRequest) toPatch() (transaction.Patch, error) {
	amount, err := parseOptionalAmount("amount", req.Amount)
	if err != nil {
		return transaction.Patch{}, err
	}
	p := transaction.Patch{
		Avatar:    req.Avatar,
		Name:      req.Name,
		Category:  req.Category,
		Amount:    amount,
		Recurring: req.Recurring,
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			return transaction.Patch{}, err
		}
		p.Date = &d
	}
	return p, nil
}

// Responses.

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type authResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

type tokensResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

type meResponse struct {
	User    userResponse    `json:"user"`
	Balance balanceResponse `json:"balance"`
}

type balanceResponse struct {
	UserID    uuid.UUID   `json:"user_id"`
	Current   json.Number `json:"current"`
	Income    json.Number `json:"income"`
	Expenses  json.Number `json:"expenses"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type driftResponse struct {
	Current  json.Number `json:"current"`
	Income   json.Number `json:"income"`
	Expenses json.Number `json:"expenses"`
}

type reconcileResponse struct {
	Consistent bool            `json:"consistent"`
	Stored     balanceResponse `json:"stored"`
	Expected   balanceResponse `json:"expected"`
	Drift      driftResponse   `json:"drift"`
}

type transactionResponse struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Avatar    string          `json:"avatar"`
	Name      string          `json:"name"`
	Category  ledger.Category `json:"category"`
	Date      time.Time       `json:"date"`
	Amount    json.Number     `json:"amount"`
	Recurring bool            `json:"recurring"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type transactionPage struct {
	Items      []transactionResponse `json:"items"`
	Pagination pagination            `json:"pagination"`
}

type budgetResponse struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Category  ledger.Category `json:"category"`
	Maximum   json.Number     `json:"maximum"`
	Theme     string          `json:"theme"`
	CreatedAt time.Time       `json:"created_at"`
}

type budgetWithSpendingResponse struct {
	budgetResponse
	Spent      json.Number `json:"spent"`
	Remaining  json.Number `json:"remaining"`
	Percentage float64     `json:"percentage"`
}

type potResponse struct {
	ID         uuid.UUID   `json:"id"`
	UserID     uuid.UUID   `json:"user_id"`
	Name       string      `json:"name"`
	Target     json.Number `json:"target"`
	Total      json.Number `json:"total"`
	Theme      string      `json:"theme"`
	CreatedAt  time.Time   `json:"created_at"`
	Percentage float64     `json:"percentage"`
}

type transferResponse struct {
	Pot     potResponse     `json:"pot"`
	Balance balanceResponse `json:"balance"`
}

type potDeletedResponse struct {
	ID      uuid.UUID       `json:"id"`
	Balance balanceResponse `json:"balance"`
}

type billResponse struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	VendorName   string          `json:"vendor_name"`
	Avatar       string          `json:"avatar"`
	Amount       json.Number     `json:"amount"`
	DueDay       int             `json:"due_day"`
	Category     ledger.Category `json:"category"`
	Theme        string          `json:"theme"`
	CreatedAt    time.Time       `json:"created_at"`
	IsPaid       bool            `json:"isPaid"`
	DaysUntilDue int             `json:"daysUntilDue"`
}

type billsSummaryResponse struct {
	Paid          json.Number    `json:"paid"`
	TotalUpcoming json.Number    `json:"totalUpcoming"`
	DueSoon       json.Number    `json:"dueSoon"`
	PaidBills     []billResponse `json:"paidBills"`
	UpcomingBills []billResponse `json:"upcomingBills"`
	DueSoonBills  []billResponse `json:"dueSoonBills"`
}

type deletedResponse struct {
	ID uuid.UUID `json:"id"`
}

func toUserResponse(u ledger.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
}

func toAuthResponse(res auth.Result) authResponse {
	return authResponse{User: toUserResponse(res.User), AccessToken: res.Tokens.AccessToken, RefreshToken: res.Tokens.RefreshToken}
}

func toTokensResponse(p auth.Pair) tokensResponse {
	return tokensResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

func toBalanceResponse(b ledger.Balance) balanceResponse {
	return balanceResponse{
		UserID:    b.UserID,
		Current:   ledger.FormatAmount(b.Current),
		Income:    ledger.FormatAmount(b.Income),
		Expenses:  ledger.FormatAmount(b.Expenses),
		UpdatedAt: b.UpdatedAt,
	}
}

func toReconcileResponse(r ledger.Reconciliation) reconcileResponse {
	d := r.Drift()
	return reconcileResponse{
		Consistent: r.Consistent(),
		Stored:     toBalanceResponse(r.Stored),
		Expected:   toBalanceResponse(r.Expected),
		Drift: driftResponse{
			Current:  ledger.FormatAmount(d.Current),
			Income:   ledger.FormatAmount(d.Income),
			Expenses: ledger.FormatAmount(d.Expenses),
		},
	}
}

func toTransactionResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Avatar:    t.Avatar,
		Name:      t.Name,
		Category:  t.Category,
		Date:      t.Date,
		Amount:    ledger.FormatAmount(t.Amount),
		Recurring: t.Recurring,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func toTransactionPage(p transaction.Page) transactionPage {
	items := make([]transactionResponse, 0, len(p.Items))
	for _, t := range p.Items {
		items = append(items, toTransactionResponse(t))
	}
	return transactionPage{
		Items:      items,
		Pagination: pagination{Page: p.Page, Limit: p.Limit, Total: p.Total, TotalPages: p.TotalPages},
	}
}

func toBudgetResponse(b ledger.Budget) budgetResponse {
	return budgetResponse{
		ID:        b.ID,
		UserID:    b.UserID,
		Category:  b.Category,
		Maximum:   ledger.FormatAmount(b.Maximum),
		Theme:     b.Theme,
		CreatedAt: b.CreatedAt,
	}
}

func toBudgetWithSpendingResponse(b ledger.BudgetWithSpending) budgetWithSpendingResponse {
	return budgetWithSpendingResponse{
		budgetResponse: toBudgetResponse(b.Budget),
		Spent:          ledger.FormatAmount(b.Spent),
		Remaining:      ledger.FormatAmount(b.Remaining),
		Percentage:     b.Percentage,
	}
}

func toPotResponse(p ledger.PotWithProgress) potResponse {
	return potResponse{
		ID:         p.ID,
		UserID:     p.UserID,
		Name:       p.Name,
		Target:     ledger.FormatAmount(p.Target),
		Total:      ledger.FormatAmount(p.Total),
		Theme:      p.Theme,
		CreatedAt:  p.CreatedAt,
		Percentage: p.Percentage,
	}
}

func toTransferResponse(t pot.Transfer) transferResponse {
	return transferResponse{Pot: toPotResponse(t.Pot), Balance: toBalanceResponse(t.Balance)}
}

func toBillResponse(b ledger.BillWithStatus) billResponse {
	return billResponse{
		ID:           b.ID,
		UserID:       b.UserID,
		VendorName:   b.VendorName,
		Avatar:       b.Avatar,
		Amount:       ledger.FormatAmount(b.Amount),
		DueDay:       b.DueDay,
		Category:     b.Category,
		Theme:        b.Theme,
		CreatedAt:    b.CreatedAt,
		IsPaid:       b.IsPaid,
		DaysUntilDue: b.DaysUntilDue,
	}
}

func toBillResponses(bills []ledger.BillWithStatus) []billResponse {
	out := make([]billResponse, 0, len(bills))
	for _, b := range bills {
		out = append(out, toBillResponse(b))
	}
	return out
}

func toBillsSummaryResponse(s ledger.BillsSummary) billsSummaryResponse {
	return billsSummaryResponse{
		Paid:          ledger.FormatAmount(s.Paid),
		TotalUpcoming: ledger.FormatAmount(s.TotalUpcoming),
		DueSoon:       ledger.FormatAmount(s.DueSoon),
		PaidBills:     toBillResponses(s.PaidBills),
		UpcomingBills: toBillResponses(s.UpcomingBills),
		DueSoonBills:  toBillResponses(s.DueSoonBills),
	}
}
