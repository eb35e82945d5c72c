package lending

import "testing"

func TestFlatInterest(t *testing.T) {
	cases := []struct {
		name      string
		principal uint64
		rateBps   uint64
		want      uint64
	}{
		{"thirty percent", 1_000_000_000, 3_000, 300_000_000},
		{"truncates toward zero", 3, 3_000, 0},
		{"one bp", 10_000, 1, 1},
		{"zero principal", 0, 3_000, 0},
		{"full rate", 1_000, 10_000, 1_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FlatInterest(tc.principal, tc.rateBps)
			if err != nil {
				t.Fatalf("flat interest: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestFlatInterestDeterminism(t *testing.T) {
	first, err := FlatInterest(987_654_321, 3_000)
	if err != nil {
		t.Fatalf("flat interest: %v", err)
	}
	for i := 0; i < 100; i++ {
		got, err := FlatInterest(987_654_321, 3_000)
		if err != nil {
			t.Fatalf("flat interest: %v", err)
		}
		if got != first {
			t.Fatalf("run %d diverged: %d vs %d", i, got, first)
		}
	}
}

func TestFlatInterestOverflow(t *testing.T) {
	// 400% of the maximum u64 cannot be represented.
	if _, err := FlatInterest(^uint64(0), 40_000); CodeOf(err) != CodeAmountOverflow {
		t.Fatalf("expected AmountOverflow, got %v", err)
	}
}

func TestRepaymentTotal(t *testing.T) {
	total, err := RepaymentTotal(1_000_000_000, 300_000_000)
	if err != nil {
		t.Fatalf("repayment total: %v", err)
	}
	if total != 1_300_000_000 {
		t.Fatalf("expected 1300000000, got %d", total)
	}
	if _, err := RepaymentTotal(^uint64(0), 1); CodeOf(err) != CodeAmountOverflow {
		t.Fatalf("expected AmountOverflow, got %v", err)
	}
}
