package ledger

// BalanceDelta is a relative change to a Balance. Stores apply it as
// current = current + Current etc., never as a read-modify-write.
type BalanceDelta struct {
	Current  int64
	Income   int64
	Expenses int64
}

// Add combines two deltas.
func (d BalanceDelta) Add(o BalanceDelta) BalanceDelta {
	return BalanceDelta{
		Current:  d.Current + o.Current,
		Income:   d.Income + o.Income,
		Expenses: d.Expenses + o.Expenses,
	}
}

// Neg returns the inverse delta.
func (d BalanceDelta) Neg() BalanceDelta {
	return BalanceDelta{Current: -d.Current, Income: -d.Income, Expenses: -d.Expenses}
}

// IsZero reports whether applying d would change nothing.
func (d BalanceDelta) IsZero() bool { return d == BalanceDelta{} }

// Apply returns b with d added.
func (b Balance) Apply(d BalanceDelta) Balance {
	b.Current += d.Current
	b.Income += d.Income
	b.Expenses += d.Expenses
	return b
}

// OnCreate is the balance effect of inserting a transaction with amount.
// Zero amounts touch neither income nor expenses.
func OnCreate(amount int64) BalanceDelta {
	d := BalanceDelta{Current: amount}
	switch {
	case amount > 0:
		d.Income = amount
	case amount < 0:
		d.Expenses = -amount
	}
	return d
}

// OnDelete is the exact inverse of OnCreate.
func OnDelete(amount int64) BalanceDelta { return OnCreate(amount).Neg() }

// OnUpdate is the combined effect of OnDelete(old) followed by OnCreate(new).
// When the sign is unchanged only one bucket moves; on a sign flip the old
// contribution leaves its bucket and the new one enters the other.
func OnUpdate(oldAmount, newAmount int64) BalanceDelta {
	return OnDelete(oldAmount).Add(OnCreate(newAmount))
}

// PotDeposit is the balance effect of moving amount into a pot.
func PotDeposit(amount int64) BalanceDelta { return BalanceDelta{Current: -amount} }

// PotWithdrawal is the balance effect of moving amount out of a pot.
func PotWithdrawal(amount int64) BalanceDelta { return BalanceDelta{Current: amount} }

// Reconciliation compares a stored balance against the value derived from the
// transaction set and the live pot totals.
type Reconciliation struct {
	Stored   Balance
	Expected Balance
}

// Consistent reports whether stored and expected agree on every bucket.
func (r Reconciliation) Consistent() bool {
	return r.Stored.Current == r.Expected.Current &&
		r.Stored.Income == r.Expected.Income &&
		r.Stored.Expenses == r.Expected.Expenses
}

// Drift is expected minus stored.
func (r Reconciliation) Drift() BalanceDelta {
	return BalanceDelta{
		Current:  r.Expected.Current - r.Stored.Current,
		Income:   r.Expected.Income - r.Stored.Income,
		Expenses: r.Expected.Expenses - r.Stored.Expenses,
	}
}

// Reconcile derives the balance implied by txs and pots and pairs it with stored.
func Reconcile(stored Balance, txs []Transaction, pots []Pot) Reconciliation {
	exp := Balance{UserID: stored.UserID, UpdatedAt: stored.UpdatedAt}
	for _, t := range txs {
		exp = exp.Apply(OnCreate(t.Amount))
	}
	for _, p := range pots {
		exp = exp.Apply(PotDeposit(p.Total))
	}
	return Reconciliation{Stored: stored, Expected: exp}
}
