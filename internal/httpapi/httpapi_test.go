package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tinoosan/fintrack/internal/service/auth"
	"github.com/tinoosan/fintrack/internal/service/bill"
	"github.com/tinoosan/fintrack/internal/service/budget"
	"github.com/tinoosan/fintrack/internal/service/pot"
	"github.com/tinoosan/fintrack/internal/service/transaction"
	"github.com/tinoosan/fintrack/internal/storage/memory"
)

// now is mid-August 2024, the month the sample data lives in.
var now = time.Date(2024, time.August, 15, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type envelopeResp struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type balanceResp struct {
	Current  json.Number `json:"current"`
	Income   json.Number `json:"income"`
	Expenses json.Number `json:"expenses"`
}

type idResp struct {
	ID string `json:"id"`
}

func setup(t *testing.T) (*memory.Store, http.Handler) {
	t.Helper()
	store := memory.New()
	clock := func() time.Time { return now }
	authSvc, err := auth.New(store, store, auth.Config{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		BcryptCost:    auth.MinBcryptCost,
		Issuer:        "fintrack-test",
	}, auth.WithClock(clock))
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	svc := Services{
		Auth:         authSvc,
		Transactions: transaction.New(store, store, transaction.WithClock(clock)),
		Budgets:      budget.New(store, store, budget.WithClock(clock)),
		Pots:         pot.New(store, store, pot.WithClock(clock)),
		Bills:        bill.New(store, store, bill.WithClock(clock)),
	}
	return store, New(svc, store, testLogger()).Handler()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, data any) envelopeResp {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}
	var env envelopeResp
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v: %s", err, rec.Body.String())
	}
	if data != nil {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	env := decode(t, rec, wantStatus, nil)
	if env.Success || env.Error == nil || env.Error.Code != wantCode {
		t.Fatalf("expected error %s, got %s", wantCode, rec.Body.String())
	}
}

type authResp struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func registerUser(t *testing.T, h http.Handler, email string) authResp {
	t.Helper()
	var out authResp
	rec := do(t, h, http.MethodPost, "/api/auth/register", "", map[string]any{"email": email, "password": "password123", "name": "Test"})
	decode(t, rec, http.StatusCreated, &out)
	if out.AccessToken == "" || out.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", out)
	}
	return out
}

func getBalance(t *testing.T, h http.Handler, token string) balanceResp {
	t.Helper()
	var b balanceResp
	decode(t, do(t, h, http.MethodGet, "/api/balance", token, nil), http.StatusOK, &b)
	return b
}

func assertBalance(t *testing.T, got balanceResp, current, income, expenses string) {
	t.Helper()
	if got.Current.String() != current || got.Income.String() != income || got.Expenses.String() != expenses {
		t.Fatalf("balance = {%s %s %s}, want {%s %s %s}", got.Current, got.Income, got.Expenses, current, income, expenses)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	_, h := setup(t)
	reg := registerUser(t, h, "  Alice@Example.com ")
	if reg.User.Email != "alice@example.com" {
		t.Fatalf("email not normalised: %q", reg.User.Email)
	}
	if strings.Contains(do(t, h, http.MethodGet, "/api/auth/me", reg.AccessToken, nil).Body.String(), "password") {
		t.Fatalf("profile leaks password material")
	}

	expectError(t, do(t, h, http.MethodPost, "/api/auth/register", "", map[string]any{"email": "alice@example.com", "password": "password123"}),
		http.StatusConflict, "CONFLICT")

	var login authResp
	decode(t, do(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "alice@example.com", "password": "password123"}), http.StatusOK, &login)

	wrong := do(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "alice@example.com", "password": "nope-nope"})
	unknown := do(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "bob@example.com", "password": "password123"})
	expectError(t, wrong, http.StatusUnauthorized, "AUTHENTICATION_ERROR")
	expectError(t, unknown, http.StatusUnauthorized, "AUTHENTICATION_ERROR")
	if wrong.Body.String() != unknown.Body.String() {
		t.Fatalf("login failures differ:\n%s\n%s", wrong.Body.String(), unknown.Body.String())
	}

	var me struct {
		User    struct{ Email string } `json:"user"`
		Balance balanceResp            `json:"balance"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/auth/me", login.AccessToken, nil), http.StatusOK, &me)
	if me.User.Email != "alice@example.com" {
		t.Fatalf("unexpected me: %+v", me)
	}
	assertBalance(t, me.Balance, "0.00", "0.00", "0.00")
}

func TestAuthentication_Required(t *testing.T) {
	_, h := setup(t)
	reg := registerUser(t, h, "a@example.com")

	expectError(t, do(t, h, http.MethodGet, "/api/balance", "", nil), http.StatusUnauthorized, "AUTHENTICATION_ERROR")
	expectError(t, do(t, h, http.MethodGet, "/api/balance", "not-a-jwt", nil), http.StatusUnauthorized, "AUTHENTICATION_ERROR")
	// A refresh token is not an access token.
	expectError(t, do(t, h, http.MethodGet, "/api/balance", reg.RefreshToken, nil), http.StatusUnauthorized, "AUTHENTICATION_ERROR")

	req := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	req.Header.Set("Authorization", "bearer "+reg.AccessToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("lower-case scheme: expected 200, got %d", rec.Code)
	}
}

func TestRefresh_SingleUseAndLogout(t *testing.T) {
	_, h := setup(t)
	reg := registerUser(t, h, "r@example.com")

	var pair struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	decode(t, do(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": reg.RefreshToken}), http.StatusOK, &pair)
	if pair.RefreshToken == reg.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}
	expectError(t, do(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": reg.RefreshToken}),
		http.StatusUnauthorized, "AUTHENTICATION_ERROR")

	for i := 0; i < 2; i++ {
		decode(t, do(t, h, http.MethodPost, "/api/auth/logout", "", map[string]any{"refreshToken": pair.RefreshToken}), http.StatusOK, nil)
	}
	expectError(t, do(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": pair.RefreshToken}),
		http.StatusUnauthorized, "AUTHENTICATION_ERROR")
}

func TestChangePassword(t *testing.T) {
	_, h := setup(t)
	reg := registerUser(t, h, "c@example.com")

	expectError(t, do(t, h, http.MethodPost, "/api/auth/change-password", reg.AccessToken,
		map[string]any{"currentPassword": "wrong-one", "newPassword": "newpassword1"}), http.StatusUnauthorized, "AUTHENTICATION_ERROR")
	decode(t, do(t, h, http.MethodPost, "/api/auth/change-password", reg.AccessToken,
		map[string]any{"currentPassword": "password123", "newPassword": "newpassword1"}), http.StatusOK, nil)

	expectError(t, do(t, h, http.MethodPost, "/api/auth/refresh", "", map[string]any{"refreshToken": reg.RefreshToken}),
		http.StatusUnauthorized, "AUTHENTICATION_ERROR")
	decode(t, do(t, h, http.MethodPost, "/api/auth/login", "", map[string]any{"email": "c@example.com", "password": "newpassword1"}), http.StatusOK, nil)
}

func TestTransactions_KeepBalanceConsistent(t *testing.T) {
	_, h := setup(t)
	tok := registerUser(t, h, "tx@example.com").AccessToken

	post := func(name string, amount any) string {
		var tx idResp
		decode(t, do(t, h, http.MethodPost, "/api/transactions", tok, map[string]any{
			"name": name, "category": "General", "date": "2024-08-10", "amount": amount,
		}), http.StatusCreated, &tx)
		return tx.ID
	}
	first := post("Salary", 50)
	post("Bonus", 50)
	assertBalance(t, getBalance(t, h, tok), "100.00", "100.00", "0.00")

	// Flipping the sign of one income moves it into expenses.
	var updated struct {
		Amount json.Number `json:"amount"`
	}
	decode(t, do(t, h, http.MethodPatch, "/api/transactions/"+first, tok, map[string]any{"amount": -20}), http.StatusOK, &updated)
	if updated.Amount.String() != "-20.00" {
		t.Fatalf("amount = %s", updated.Amount)
	}
	assertBalance(t, getBalance(t, h, tok), "30.00", "50.00", "20.00")

	decode(t, do(t, h, http.MethodDelete, "/api/transactions/"+first, tok, nil), http.StatusOK, nil)
	assertBalance(t, getBalance(t, h, tok), "50.00", "50.00", "0.00")
	expectError(t, do(t, h, http.MethodGet, "/api/transactions/"+first, tok, nil), http.StatusNotFound, "NOT_FOUND")

	var rec struct {
		Consistent bool `json:"consistent"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/balance/reconcile", tok, nil), http.StatusOK, &rec)
	if !rec.Consistent {
		t.Fatalf("expected consistent balance")
	}
}

func TestTransactions_Validation(t *testing.T) {
	_, h := setup(t)
	tok := registerUser(t, h, "v@example.com").AccessToken

	cases := []map[string]any{
		{"name": "", "category": "General", "date": "2024-08-10", "amount": 1},
		{"name": "x", "category": "Gadgets", "date": "2024-08-10", "amount": 1},
		{"name": "x", "category": "General", "date": "yesterday", "amount": 1},
		{"name": "x", "category": "General", "date": "2024-08-10", "amount": 1.005},
		{"name": "x", "category": "General", "date": "2024-08-10", "amount": 1000000},
	}
	for _, body := range cases {
		expectError(t, do(t, h, http.MethodPost, "/api/transactions", tok, body), http.StatusBadRequest, "VALIDATION_ERROR")
	}
	assertBalance(t, getBalance(t, h, tok), "0.00", "0.00", "0.00")

	expectError(t, do(t, h, http.MethodGet, "/api/transactions/not-a-uuid", tok, nil), http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestTransactions_ListQuery(t *testing.T) {
	_, h := setup(t)
	tok := registerUser(t, h, "list@example.com").AccessToken
	for i, name := range []string{"Coffee", "Groceries run", "coffee beans"} {
		category := "DiningOut"
		if i == 1 {
			category = "Groceries"
		}
		decode(t, do(t, h, http.MethodPost, "/api/transactions", tok, map[string]any{
			"name": name, "category": category, "date": now.AddDate(0, 0, -i).Format(time.RFC3339), "amount": -(i + 1),
		}), http.StatusCreated, nil)
	}

	var page struct {
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
		Pagination struct {
			Page       int `json:"page"`
			Limit      int `json:"limit"`
			Total      int `json:"total"`
			TotalPages int `json:"totalPages"`
		} `json:"pagination"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/transactions?search=COFFEE&sort=atoz&limit=1&page=2", tok, nil), http.StatusOK, &page)
	if page.Pagination.Total != 2 || page.Pagination.TotalPages != 2 || len(page.Items) != 1 || page.Items[0].Name != "coffee beans" {
		t.Fatalf("unexpected page: %+v", page)
	}

	decode(t, do(t, h, http.MethodGet, "/api/transactions?category=Groceries", tok, nil), http.StatusOK, &page)
	if page.Pagination.Total != 1 || page.Pagination.Limit != 10 {
		t.Fatalf("unexpected category page: %+v", page)
	}
	decode(t, do(t, h, http.MethodGet, "/api/transactions?category=all", tok, nil), http.StatusOK, &page)
	if page.Pagination.Total != 3 {
		t.Fatalf("category=all should not filter: %+v", page)
	}

	for _, q := range []string{"sort=random", "limit=0", "limit=101", "page=0", "category=Gadgets"} {
		expectError(t, do(t, h, http.MethodGet, "/api/transactions?"+q, tok, nil), http.StatusBadRequest, "VALIDATION_ERROR")
	}
}

func TestBudgets_AggregationAndConflict(t *testing.T) {
	_, h := setup(t)
	tok := registerUser(t, h, "b@example.com").AccessToken

	var created idResp
	decode(t, do(t, h, http.MethodPost, "/api/budgets", tok, map[string]any{"category": "DiningOut", "maximum": 75, "theme": "#277C78"}),
		http.StatusCreated, &created)
	expectError(t, do(t, h, http.MethodPost, "/api/budgets", tok, map[string]any{"category": "DiningOut", "maximum": 100, "theme": "#82C9D7"}),
		http.StatusConflict, "CONFLICT")

	for _, amt := range []int{-30, -60} {
		decode(t, do(t, h, http.MethodPost, "/api/transactions", tok, map[string]any{
			"name": "Dinner", "category": "DiningOut", "date": "2024-08-02T19:00:00Z", "amount": amt,
		}), http.StatusCreated, nil)
	}
	// Last month does not count.
	decode(t, do(t, h, http.MethodPost, "/api/transactions", tok, map[string]any{
		"name": "Dinner", "category": "DiningOut", "date": "2024-07-31T19:00:00Z", "amount": -5,
	}), http.StatusCreated, nil)

	var b struct {
		Spent      json.Number `json:"spent"`
		Remaining  json.Number `json:"remaining"`
		Percentage float64     `json:"percentage"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/budgets/"+created.ID, tok, nil), http.StatusOK, &b)
	if b.Spent.String() != "90.00" || b.Remaining.String() != "-15.00" || b.Percentage != 100 {
		t.Fatalf("unexpected aggregation: %+v", b)
	}

	var latest []idResp
	decode(t, do(t, h, http.MethodGet, "/api/budgets/category/DiningOut/latest", tok, nil), http.StatusOK, &latest)
	if len(latest) != 3 {
		t.Fatalf("latest returned %d transactions", len(latest))
	}
	expectError(t, do(t, h, http.MethodGet, "/api/budgets/category/Gadgets/latest", tok, nil), http.StatusBadRequest, "VALIDATION_ERROR")

	decode(t, do(t, h, http.MethodDelete, "/api/budgets/"+created.ID, tok, nil), http.StatusOK, nil)
	expectError(t, do(t, h, http.MethodGet, "/api/budgets/"+created.ID, tok, nil), http.StatusNotFound, "NOT_FOUND")
}

func TestPots_Transfers(t *testing.T) {
	_, h := setup(t)
	tok := registerUser(t, h, "p@example.com").AccessToken
	decode(t, do(t, h, http.MethodPost, "/api/transactions", tok, map[string]any{
		"name": "Salary", "category": "General", "date": "2024-08-01", "amount": 100,
	}), http.StatusCreated, nil)

	var p struct {
		ID         string      `json:"id"`
		Total      json.Number `json:"total"`
		Percentage float64     `json:"percentage"`
	}
	decode(t, do(t, h, http.MethodPost, "/api/pots", tok, map[string]any{"name": "Holiday", "target": 200, "theme": "#F2CDAC"}), http.StatusCreated, &p)
	if p.Total.String() != "0.00" {
		t.Fatalf("new pot total = %s", p.Total)
	}

	expectError(t, do(t, h, http.MethodPost, "/api/pots/"+p.ID+"/add", tok, map[string]any{"amount": 100.01}),
		http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS")
	expectError(t, do(t, h, http.MethodPost, "/api/pots/"+p.ID+"/add", tok, map[string]any{"amount": 0}),
		http.StatusBadRequest, "VALIDATION_ERROR")

	var tr struct {
		Pot struct {
			Total      json.Number `json:"total"`
			Percentage float64     `json:"percentage"`
		} `json:"pot"`
		Balance balanceResp `json:"balance"`
	}
	decode(t, do(t, h, http.MethodPost, "/api/pots/"+p.ID+"/add", tok, map[string]any{"amount": 60}), http.StatusOK, &tr)
	if tr.Pot.Total.String() != "60.00" || tr.Pot.Percentage != 30 {
		t.Fatalf("unexpected pot after add: %+v", tr.Pot)
	}
	assertBalance(t, tr.Balance, "40.00", "100.00", "0.00")

	expectError(t, do(t, h, http.MethodPost, "/api/pots/"+p.ID+"/withdraw", tok, map[string]any{"amount": 60.01}),
		http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS")
	decode(t, do(t, h, http.MethodPost, "/api/pots/"+p.ID+"/withdraw", tok, map[string]any{"amount": 10}), http.StatusOK, &tr)
	assertBalance(t, tr.Balance, "50.00", "100.00", "0.00")

	var del struct {
		Balance balanceResp `json:"balance"`
	}
	decode(t, do(t, h, http.MethodDelete, "/api/pots/"+p.ID, tok, nil), http.StatusOK, &del)
	assertBalance(t, del.Balance, "100.00", "100.00", "0.00")
	expectError(t, do(t, h, http.MethodGet, "/api/pots/"+p.ID, tok, nil), http.StatusNotFound, "NOT_FOUND")
}

func TestPots_OtherUserCannotTouch(t *testing.T) {
	_, h := setup(t)
	owner := registerUser(t, h, "owner@example.com").AccessToken
	intruder := registerUser(t, h, "intruder@example.com").AccessToken

	var p idResp
	decode(t, do(t, h, http.MethodPost, "/api/pots", owner, map[string]any{"name": "Mine", "target": 10, "theme": "#277C78"}), http.StatusCreated, &p)
	expectError(t, do(t, h, http.MethodGet, "/api/pots/"+p.ID, intruder, nil), http.StatusNotFound, "NOT_FOUND")
	expectError(t, do(t, h, http.MethodDelete, "/api/pots/"+p.ID, intruder, nil), http.StatusNotFound, "NOT_FOUND")
}

func TestBills_StatusAndSummary(t *testing.T) {
	_, h := setup(t)
	tok := registerUser(t, h, "bills@example.com").AccessToken

	mk := func(vendor string, amount float64, due int) {
		decode(t, do(t, h, http.MethodPost, "/api/bills", tok, map[string]any{
			"vendor_name": vendor, "amount": amount, "due_day": due, "category": "Bills", "theme": "#626070",
		}), http.StatusCreated, nil)
	}
	mk("Spark Electric", 100, 2)
	mk("Aqua Flow", 25.50, 17)
	mk("EcoFuel", 35, 28)

	decode(t, do(t, h, http.MethodPost, "/api/transactions", tok, map[string]any{
		"name": "Spark Electric", "category": "Bills", "date": "2024-08-02", "amount": -100,
	}), http.StatusCreated, nil)

	var list []struct {
		VendorName   string `json:"vendor_name"`
		IsPaid       bool   `json:"isPaid"`
		DaysUntilDue int    `json:"daysUntilDue"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/bills?sort=latest", tok, nil), http.StatusOK, &list)
	if len(list) != 3 || list[0].VendorName != "Spark Electric" || !list[0].IsPaid || list[0].DaysUntilDue != 18 {
		t.Fatalf("unexpected bills: %+v", list)
	}

	var sum struct {
		Paid          json.Number       `json:"paid"`
		TotalUpcoming json.Number       `json:"totalUpcoming"`
		DueSoon       json.Number       `json:"dueSoon"`
		DueSoonBills  []json.RawMessage `json:"dueSoonBills"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/bills/summary", tok, nil), http.StatusOK, &sum)
	if sum.Paid.String() != "100.00" || sum.TotalUpcoming.String() != "60.50" || sum.DueSoon.String() != "25.50" || len(sum.DueSoonBills) != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	expectError(t, do(t, h, http.MethodPost, "/api/bills", tok, map[string]any{
		"vendor_name": "Bad", "amount": 10, "due_day": 32, "category": "Bills", "theme": "#626070",
	}), http.StatusBadRequest, "VALIDATION_ERROR")
	expectError(t, do(t, h, http.MethodGet, "/api/bills?sort=sideways", tok, nil), http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestRequestHygiene(t *testing.T) {
	_, h := setup(t)
	tok := registerUser(t, h, "h@example.com").AccessToken

	req := httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE")

	expectError(t, do(t, h, http.MethodPost, "/api/pots", tok, map[string]any{"name": "x", "target": 1, "theme": "#277C78", "total": 500}),
		http.StatusBadRequest, "VALIDATION_ERROR")

	big := `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/api/pots", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	expectError(t, rec, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")

	expectError(t, do(t, h, http.MethodGet, "/api/nowhere", tok, nil), http.StatusNotFound, "NOT_FOUND")
	expectError(t, do(t, h, http.MethodPut, "/api/pots", tok, nil), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
}

func TestProbesDictionaryAndMetrics(t *testing.T) {
	_, h := setup(t)
	decode(t, do(t, h, http.MethodGet, "/healthz", "", nil), http.StatusOK, nil)
	decode(t, do(t, h, http.MethodGet, "/readyz", "", nil), http.StatusOK, nil)

	var cats []struct {
		Code  string `json:"code"`
		Label string `json:"label"`
	}
	decode(t, do(t, h, http.MethodGet, "/api/dictionary/categories", "", nil), http.StatusOK, &cats)
	if len(cats) != 10 {
		t.Fatalf("expected 10 categories, got %d", len(cats))
	}
	var themes []json.RawMessage
	decode(t, do(t, h, http.MethodGet, "/api/dictionary/themes", "", nil), http.StatusOK, &themes)
	if len(themes) != 15 {
		t.Fatalf("expected 15 themes, got %d", len(themes))
	}

	rec := do(t, h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "fintrack_http_requests_total") {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}
}

func doKeyed(t *testing.T, h http.Handler, method, path, token, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", key)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyKey_ReplaysWithoutMovingMoneyTwice(t *testing.T) {
	_, h := setup(t)
	tok := registerUser(t, h, "idem@example.com").AccessToken
	salary := map[string]any{"name": "Salary", "category": "General", "date": "2024-08-01", "amount": 50}

	var first, second idResp
	decode(t, doKeyed(t, h, http.MethodPost, "/api/transactions", tok, "salary-aug", salary), http.StatusCreated, &first)
	decode(t, doKeyed(t, h, http.MethodPost, "/api/transactions", tok, "salary-aug", salary), http.StatusCreated, &second)
	if first.ID == "" || first.ID != second.ID {
		t.Fatalf("replay created a new transaction: %s vs %s", first.ID, second.ID)
	}
	assertBalance(t, getBalance(t, h, tok), "50.00", "50.00", "0.00")

	changed := map[string]any{"name": "Salary", "category": "General", "date": "2024-08-01", "amount": 60}
	expectError(t, doKeyed(t, h, http.MethodPost, "/api/transactions", tok, "salary-aug", changed), http.StatusConflict, "CONFLICT")
	assertBalance(t, getBalance(t, h, tok), "50.00", "50.00", "0.00")

	// The same key from another user is independent.
	other := registerUser(t, h, "idem-other@example.com").AccessToken
	decode(t, doKeyed(t, h, http.MethodPost, "/api/transactions", other, "salary-aug", salary), http.StatusCreated, nil)
	assertBalance(t, getBalance(t, h, other), "50.00", "50.00", "0.00")

	var p idResp
	decode(t, do(t, h, http.MethodPost, "/api/pots", tok, map[string]any{"name": "Holiday", "target": 200, "theme": "#F2CDAC"}), http.StatusCreated, &p)

	var tr struct {
		Pot struct {
			Total json.Number `json:"total"`
		} `json:"pot"`
		Balance balanceResp `json:"balance"`
	}
	for i := 0; i < 2; i++ {
		decode(t, doKeyed(t, h, http.MethodPost, "/api/pots/"+p.ID+"/add", tok, "holiday-1", map[string]any{"amount": 20}), http.StatusOK, &tr)
		if tr.Pot.Total.String() != "20.00" {
			t.Fatalf("attempt %d: pot total = %s", i, tr.Pot.Total)
		}
		assertBalance(t, tr.Balance, "30.00", "50.00", "0.00")
	}

	// A key is bound to the route it was first used on.
	expectError(t, doKeyed(t, h, http.MethodPost, "/api/pots/"+p.ID+"/withdraw", tok, "holiday-1", map[string]any{"amount": 20}),
		http.StatusConflict, "CONFLICT")

	for i := 0; i < 2; i++ {
		decode(t, doKeyed(t, h, http.MethodPost, "/api/pots/"+p.ID+"/withdraw", tok, "holiday-2", map[string]any{"amount": 5}), http.StatusOK, &tr)
	}
	if tr.Pot.Total.String() != "15.00" {
		t.Fatalf("pot total after replayed withdraw = %s", tr.Pot.Total)
	}
	assertBalance(t, getBalance(t, h, tok), "35.00", "50.00", "0.00")

	expectError(t, doKeyed(t, h, http.MethodPost, "/api/transactions", tok, strings.Repeat("k", 256), salary),
		http.StatusBadRequest, "VALIDATION_ERROR")
}
