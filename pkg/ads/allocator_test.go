package ads

import (
	"context"
	"errors"
	"testing"
)

func TestConsumeLinksCreditOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addCredit(test, Credit{CreditID: "credit-1", UserID: "user-1", Kind: CreditKindAd, TotalDays: 15})
	service := mustNewService(test, store)

	if err := service.Consume(context.Background(), "credit-1", "ad-1"); err != nil {
		test.Fatalf("consume: %v", err)
	}
	err := service.Consume(context.Background(), "credit-1", "ad-2")
	if !errors.Is(err, ErrCreditConsumed) {
		test.Fatalf("expected ErrCreditConsumed, got %v", err)
	}
	credit := store.mustCredit(test, "credit-1")
	if credit.AdID == nil || *credit.AdID != "ad-1" {
		test.Fatalf("first consumer must keep the credit, got %v", credit.AdID)
	}
}

func TestConsumeUnknownCredit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	err := service.Consume(context.Background(), "credit-ghost", "ad-1")
	if !errors.Is(err, ErrCreditNotFound) {
		test.Fatalf("expected ErrCreditNotFound, got %v", err)
	}
}

func TestEnsureFreeQuotaTopsUpToQuota(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.addCredit(test, Credit{CreditID: "free-1", UserID: "user-1", Kind: CreditKindAd, TotalDays: 15})
	service := mustNewService(test, store)

	created, err := service.EnsureFreeQuota(context.Background(), "user-1", CreditKindAd)
	if err != nil {
		test.Fatalf("ensure quota: %v", err)
	}
	if created != DefaultFreeQuota-1 {
		test.Fatalf("expected %d minted credits, got %d", DefaultFreeQuota-1, created)
	}
	credits, err := service.ListCredits(context.Background(), "user-1")
	if err != nil {
		test.Fatalf("list credits: %v", err)
	}
	if len(credits) != DefaultFreeQuota {
		test.Fatalf("expected %d credits, got %d", DefaultFreeQuota, len(credits))
	}
}

func TestEnsureFreeQuotaIsIdempotentAtQuota(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	if _, err := service.EnsureFreeQuota(context.Background(), "user-1", CreditKindAd); err != nil {
		test.Fatalf("first ensure: %v", err)
	}
	created, err := service.EnsureFreeQuota(context.Background(), "user-1", CreditKindAd)
	if err != nil {
		test.Fatalf("second ensure: %v", err)
	}
	if created != 0 {
		test.Fatalf("expected no minting at quota, got %d", created)
	}
}

func TestEnsureFreeQuotaCountsConsumedRunningCredits(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	adID := "ad-running"
	store.ads[adID] = Ad{AdID: adID, UserID: "user-1", Active: true, RemainingDays: 5}
	store.addCredit(test, Credit{CreditID: "free-1", UserID: "user-1", Kind: CreditKindAd, TotalDays: 15, AdID: &adID})
	service := mustNewService(test, store)

	created, err := service.EnsureFreeQuota(context.Background(), "user-1", CreditKindAd)
	if err != nil {
		test.Fatalf("ensure quota: %v", err)
	}
	if created != DefaultFreeQuota-1 {
		test.Fatalf("a credit tied to a running ad counts toward the quota, expected %d minted, got %d", DefaultFreeQuota-1, created)
	}
}

func TestEnsureFreeQuotaIgnoresExpiredConsumedCredits(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	adID := "ad-expired"
	store.ads[adID] = Ad{AdID: adID, UserID: "user-1", Active: false, RemainingDays: 0}
	store.addCredit(test, Credit{CreditID: "free-1", UserID: "user-1", Kind: CreditKindAd, TotalDays: 15, AdID: &adID})
	service := mustNewService(test, store)

	created, err := service.EnsureFreeQuota(context.Background(), "user-1", CreditKindAd)
	if err != nil {
		test.Fatalf("ensure quota: %v", err)
	}
	if created != DefaultFreeQuota {
		test.Fatalf("a credit spent on an expired ad is gone, expected %d minted, got %d", DefaultFreeQuota, created)
	}
}

func TestCreateCreditMintsRecord(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	credit, err := service.CreateCredit(context.Background(), CreditInput{
		UserID:      "user-1",
		Kind:        CreditKindFeatured,
		PriceCents:  5000,
		Description: "featured add-on",
	})
	if err != nil {
		test.Fatalf("create credit: %v", err)
	}
	if credit.CreditID == "" {
		test.Fatalf("minted credit must get an id")
	}
	stored := store.mustCredit(test, credit.CreditID)
	if stored.Kind != CreditKindFeatured || stored.PriceCents != 5000 {
		test.Fatalf("unexpected stored credit %+v", stored)
	}
}
