package ads

import "testing"

func TestResolveStatusPriority(test *testing.T) {
	test.Parallel()
	reservation := "credit-1"
	testCases := []struct {
		name string
		ad   Ad
		want Status
	}{
		{
			name: "rejected wins over everything",
			ad:   Ad{Rejected: true, Banned: true, Active: true, RemainingDays: 10},
			want: StatusRejected,
		},
		{
			name: "banned wins over active",
			ad:   Ad{Banned: true, Active: true, RemainingDays: 10},
			want: StatusBanned,
		},
		{
			name: "active with remaining days",
			ad:   Ad{Active: true, RemainingDays: 1},
			want: StatusActive,
		},
		{
			name: "inactive with no remaining days is archived",
			ad:   Ad{Active: false, RemainingDays: 0},
			want: StatusArchived,
		},
		{
			name: "paid without reservation is abandoned",
			ad:   Ad{Active: false, RemainingDays: 5, IsPaid: true},
			want: StatusAbandoned,
		},
		{
			name: "paid with reservation is pending",
			ad:   Ad{Active: false, RemainingDays: 5, IsPaid: true, ReservationID: &reservation},
			want: StatusPending,
		},
		{
			name: "inactive unpaid with remaining days is pending",
			ad:   Ad{Active: false, RemainingDays: 5},
			want: StatusPending,
		},
		{
			name: "active with no remaining days is unknown",
			ad:   Ad{Active: true, RemainingDays: 0},
			want: StatusUnknown,
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := ResolveStatus(testCase.ad); got != testCase.want {
				test.Fatalf("expected %s, got %s", testCase.want, got)
			}
		})
	}
}
