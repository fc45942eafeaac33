package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/httpapi"
	"github.com/tinoosan/fintrack/internal/ledger"
	"github.com/tinoosan/fintrack/internal/service/auth"
	"github.com/tinoosan/fintrack/internal/service/bill"
	"github.com/tinoosan/fintrack/internal/service/budget"
	"github.com/tinoosan/fintrack/internal/service/pot"
	"github.com/tinoosan/fintrack/internal/service/transaction"
)

const (
	demoEmail    = "demo@example.com"
	demoPassword = "password123"
)

type seedTx struct {
	name      string
	category  ledger.Category
	day, hour int
	amount    int64
	recurring bool
}

type seedPot struct {
	name          string
	target, total int64
	theme         string
}

// Demo data in minor units. Transactions fall in the current month so bills
// and budgets have something to show.
var (
	demoTransactions = []seedTx{
		{"Payroll", ledger.CategoryGeneral, 1, 9, 3814_25, true},
		{"Spark Electric Solutions", ledger.CategoryBills, 2, 9, -100_00, true},
		{"Elevate Education", ledger.CategoryEducation, 4, 11, -50_00, true},
		{"Pixel Playground", ledger.CategoryEntertainment, 11, 18, -10_00, true},
		{"Daniel Carter", ledger.CategoryGeneral, 18, 9, -42_30, false},
		{"Emma Richardson", ledger.CategoryGeneral, 19, 14, 75_50, false},
		{"Savory Bites Bistro", ledger.CategoryDiningOut, 19, 20, -55_50, false},
	}
	demoBudgets = []budget.Input{
		{Category: ledger.CategoryEntertainment, Maximum: 50_00, Theme: "#277C78"},
		{Category: ledger.CategoryBills, Maximum: 750_00, Theme: "#82C9D7"},
		{Category: ledger.CategoryDiningOut, Maximum: 75_00, Theme: "#F2CDAC"},
		{Category: ledger.CategoryPersonalCare, Maximum: 100_00, Theme: "#626070"},
	}
	demoPots = []seedPot{
		{"Savings", 2000_00, 159_00, "#277C78"},
		{"Concert Ticket", 150_00, 110_00, "#626070"},
		{"Gift", 150_00, 110_00, "#82C9D7"},
		{"New Laptop", 1000_00, 10_00, "#F2CDAC"},
	}
	demoBills = []bill.Input{
		{VendorName: "Pixel Playground", Amount: 10_00, DueDay: 11, Category: ledger.CategoryEntertainment, Theme: "#277C78"},
		{VendorName: "Elevate Education", Amount: 50_00, DueDay: 4, Category: ledger.CategoryEducation, Theme: "#82C9D7"},
		{VendorName: "Serenity Spa & Wellness", Amount: 30_00, DueDay: 3, Category: ledger.CategoryPersonalCare, Theme: "#626070"},
		{VendorName: "Spark Electric Solutions", Amount: 100_00, DueDay: 2, Category: ledger.CategoryBills, Theme: "#F2CDAC"},
	}
)

// seedDemo creates the demo user and sample data through the services, so
// every balance invariant holds. It does nothing if the user already exists.
func seedDemo(ctx context.Context, svc httpapi.Services, logger *slog.Logger) error {
	name := "Demo User"
	res, err := svc.Auth.Register(ctx, auth.RegisterInput{Email: demoEmail, Password: demoPassword, Name: &name})
	if errors.Is(err, errs.ErrConflict) {
		logger.Info("dev seed skipped, demo user exists", "email", demoEmail)
		return nil
	}
	if err != nil {
		return fmt.Errorf("register demo user: %w", err)
	}
	userID := res.User.ID

	y, m, _ := time.Now().UTC().Date()
	for _, t := range demoTransactions {
		_, err := svc.Transactions.Create(ctx, userID, transaction.Input{
			Name:      t.name,
			Category:  t.category,
			Date:      time.Date(y, m, t.day, t.hour, 0, 0, 0, time.UTC),
			Amount:    t.amount,
			Recurring: t.recurring,
		})
		if err != nil {
			return fmt.Errorf("seed transaction %q: %w", t.name, err)
		}
	}
	for _, b := range demoBudgets {
		if _, err := svc.Budgets.Create(ctx, userID, b); err != nil {
			return fmt.Errorf("seed budget %s: %w", b.Category, err)
		}
	}
	for _, p := range demoPots {
		created, err := svc.Pots.Create(ctx, userID, pot.Input{Name: p.name, Target: p.target, Theme: p.theme})
		if err != nil {
			return fmt.Errorf("seed pot %q: %w", p.name, err)
		}
		if _, err := svc.Pots.AddMoney(ctx, userID, created.ID, p.total); err != nil {
			return fmt.Errorf("fund pot %q: %w", p.name, err)
		}
	}
	for _, b := range demoBills {
		if _, err := svc.Bills.Create(ctx, userID, b); err != nil {
			return fmt.Errorf("seed bill %q: %w", b.VendorName, err)
		}
	}

	logger.Info("DEV seed", "user_id", userID.String(), "email", demoEmail)
	fmt.Println("==================== DEV SEED ====================")
	fmt.Printf("email:    %s\n", demoEmail)
	fmt.Printf("password: %s\n", demoPassword)
	fmt.Println("==================================================")
	return nil
}
