// Package plan computes the deterministic split of a campaign's leads across
// its accounts. The split is contiguous: the first counts[0] leads (in source
// order) belong to the first account, the next counts[1] to the second, and so
// on. Never round-robin, so a resumed campaign walks the same order.
package plan

import "errors"

var (
	ErrNoAccounts = errors.New("no accounts assigned")
	ErrNoLeads    = errors.New("no pending leads")
)

// Distribute returns the per-account lead counts for totalLeads split across
// k accounts: each gets totalLeads/k, and the first totalLeads%k accounts get
// one extra.
func Distribute(totalLeads, k int) ([]int, error) {
	if k <= 0 {
		return nil, ErrNoAccounts
	}
	if totalLeads <= 0 {
		return nil, ErrNoLeads
	}

	base := totalLeads / k
	remainder := totalLeads % k

	counts := make([]int, k)
	for i := range counts {
		counts[i] = base
		if i < remainder {
			counts[i]++
		}
	}
	return counts, nil
}

// Assignment pairs an account with its contiguous slice of lead identifiers.
type Assignment struct {
	AccountID int64
	Leads     []string
}

// Assign slices leads across accountIDs in input order using Distribute.
// The returned slices alias the input.
func Assign(leads []string, accountIDs []int64) ([]Assignment, error) {
	counts, err := Distribute(len(leads), len(accountIDs))
	if err != nil {
		return nil, err
	}

	out := make([]Assignment, len(accountIDs))
	start := 0
	for i, id := range accountIDs {
		end := start + counts[i]
		out[i] = Assignment{AccountID: id, Leads: leads[start:end]}
		start = end
	}
	return out, nil
}
