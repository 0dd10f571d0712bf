package ads

import (
	"errors"
	"testing"
)

func TestDecodeChoicesRoundTrip(test *testing.T) {
	test.Parallel()
	original := PurchaseChoices{Pack: "pack-10", Featured: ChoiceFreeCredit}
	decoded, err := DecodeChoices(original.Encode())
	if err != nil {
		test.Fatalf("decode: %v", err)
	}
	if decoded != original {
		test.Fatalf("expected %+v, got %+v", original, decoded)
	}
}

func TestDecodeChoicesRejectsGarbage(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "blank", raw: "   "},
		{name: "not json", raw: "free|paid"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := DecodeChoices(testCase.raw); !errors.Is(err, ErrInvalidChoices) {
				test.Fatalf("expected ErrInvalidChoices, got %v", err)
			}
		})
	}
}

func TestPurchaseChoicesPackID(test *testing.T) {
	test.Parallel()
	if _, ok := (PurchaseChoices{Pack: ChoiceFreeCredit}).PackID(); ok {
		test.Fatalf("free choice is not a pack id")
	}
	if _, ok := (PurchaseChoices{Pack: ChoicePaidCredit}).PackID(); ok {
		test.Fatalf("paid choice is not a pack id")
	}
	packID, ok := (PurchaseChoices{Pack: "pack-10"}).PackID()
	if !ok || packID != "pack-10" {
		test.Fatalf("expected pack-10, got %q", packID)
	}
}

func TestPaymentRequired(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		choices PurchaseChoices
		want    bool
	}{
		{name: "free only", choices: PurchaseChoices{Pack: ChoiceFreeCredit}, want: false},
		{name: "paid credit only", choices: PurchaseChoices{Pack: ChoicePaidCredit}, want: false},
		{name: "free with free featured", choices: PurchaseChoices{Pack: ChoiceFreeCredit, Featured: ChoiceFreeCredit}, want: false},
		{name: "concrete pack", choices: PurchaseChoices{Pack: "pack-5"}, want: true},
		{name: "paid featured", choices: PurchaseChoices{Pack: ChoiceFreeCredit, Featured: ChoicePaidCredit}, want: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := testCase.choices.PaymentRequired(); got != testCase.want {
				test.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}

func TestParseCreditKind(test *testing.T) {
	test.Parallel()
	if _, err := ParseCreditKind("ad"); err != nil {
		test.Fatalf("ad kind: %v", err)
	}
	if _, err := ParseCreditKind("featured"); err != nil {
		test.Fatalf("featured kind: %v", err)
	}
	if _, err := ParseCreditKind("banner"); !errors.Is(err, ErrInvalidCreditKind) {
		test.Fatalf("expected ErrInvalidCreditKind")
	}
}

func TestCreditAvailability(test *testing.T) {
	test.Parallel()
	adID := "ad-1"
	if (Credit{AdID: &adID}).Available() {
		test.Fatalf("consumed credit must not be available")
	}
	if !(Credit{}).Available() {
		test.Fatalf("unconsumed credit must be available")
	}
	if !(Credit{PriceCents: 0}).Free() {
		test.Fatalf("zero-price credit is free")
	}
	if (Credit{PriceCents: 100}).Free() {
		test.Fatalf("priced credit is not free")
	}
}
