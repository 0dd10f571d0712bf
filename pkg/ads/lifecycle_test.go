package ads

import (
	"context"
	"errors"
	"testing"
)

func TestApproveActivatesPendingAd(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.ads["ad-1"] = Ad{AdID: "ad-1", UserID: "user-1", RemainingDays: 15, DurationDays: 15}
	notifier := &recordingNotifier{}
	service := mustNewService(test, store, WithNotifier(notifier))

	if err := service.Approve(context.Background(), "ad-1", Actor{ID: "admin-1", Admin: true}); err != nil {
		test.Fatalf("approve: %v", err)
	}
	ad := store.ads["ad-1"]
	if !ad.Active {
		test.Fatalf("approved ad must be active")
	}
	if ad.ActivatedBy != "admin-1" {
		test.Fatalf("expected activator admin-1, got %s", ad.ActivatedBy)
	}
	if got := ResolveStatus(ad); got != StatusActive {
		test.Fatalf("expected active, got %s", got)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].Template != TemplateAdApproved {
		test.Fatalf("expected one approval notice, got %+v", notifier.sent)
	}
}

func TestApproveRejectsNonPendingAd(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		ad   Ad
	}{
		{name: "already active", ad: Ad{AdID: "ad-1", UserID: "user-1", Active: true, RemainingDays: 10}},
		{name: "rejected", ad: Ad{AdID: "ad-1", UserID: "user-1", Rejected: true, RemainingDays: 10}},
		{name: "banned", ad: Ad{AdID: "ad-1", UserID: "user-1", Banned: true, RemainingDays: 10}},
		{name: "archived", ad: Ad{AdID: "ad-1", UserID: "user-1", RemainingDays: 0}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			store.ads["ad-1"] = testCase.ad
			service := mustNewService(test, store)

			err := service.Approve(context.Background(), "ad-1", Actor{ID: "admin-1", Admin: true})
			if !errors.Is(err, ErrInvalidTransition) {
				test.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestRejectStampsReason(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.ads["ad-1"] = Ad{AdID: "ad-1", UserID: "user-1", RemainingDays: 15, DurationDays: 15}
	notifier := &recordingNotifier{}
	service := mustNewService(test, store, WithNotifier(notifier))

	if err := service.Reject(context.Background(), "ad-1", Actor{ID: "admin-1", Admin: true}, "duplicate listing"); err != nil {
		test.Fatalf("reject: %v", err)
	}
	ad := store.ads["ad-1"]
	if !ad.Rejected || ad.RejectReason != "duplicate listing" {
		test.Fatalf("unexpected rejection state %+v", ad)
	}
	if got := ResolveStatus(ad); got != StatusRejected {
		test.Fatalf("expected rejected, got %s", got)
	}
}

func TestRejectDefaultsReason(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.ads["ad-1"] = Ad{AdID: "ad-1", UserID: "user-1", RemainingDays: 15}
	service := mustNewService(test, store)

	if err := service.Reject(context.Background(), "ad-1", Actor{ID: "admin-1", Admin: true}, ""); err != nil {
		test.Fatalf("reject: %v", err)
	}
	if store.ads["ad-1"].RejectReason != defaultRejectReason {
		test.Fatalf("expected default reason, got %q", store.ads["ad-1"].RejectReason)
	}
}

func TestBanRequiresOwnerOrAdmin(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.ads["ad-1"] = Ad{AdID: "ad-1", UserID: "user-1", Active: true, RemainingDays: 10}
	service := mustNewService(test, store)

	err := service.Ban(context.Background(), "ad-1", Actor{ID: "user-2"}, "spam")
	if !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
	if store.ads["ad-1"].Banned {
		test.Fatalf("forbidden ban must not change the ad")
	}
}

func TestBanByOwnerTakesAdDown(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.ads["ad-1"] = Ad{AdID: "ad-1", UserID: "user-1", Active: true, RemainingDays: 10}
	service := mustNewService(test, store)

	if err := service.Ban(context.Background(), "ad-1", Actor{ID: "user-1"}, "sold elsewhere"); err != nil {
		test.Fatalf("ban: %v", err)
	}
	ad := store.ads["ad-1"]
	if ad.Active || !ad.Banned {
		test.Fatalf("banned ad must be inactive and flagged, got %+v", ad)
	}
	if got := ResolveStatus(ad); got != StatusBanned {
		test.Fatalf("expected banned, got %s", got)
	}
}

func TestBanTwiceIsInvalid(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.ads["ad-1"] = Ad{AdID: "ad-1", UserID: "user-1", Banned: true, RemainingDays: 10}
	service := mustNewService(test, store)

	err := service.Ban(context.Background(), "ad-1", Actor{ID: "user-1"}, "again")
	if !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestDeactivateExpiresAdEarly(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.ads["ad-1"] = Ad{AdID: "ad-1", UserID: "user-1", Active: true, RemainingDays: 10}
	service := mustNewService(test, store)

	if err := service.Deactivate(context.Background(), "ad-1", Actor{ID: "user-1"}); err != nil {
		test.Fatalf("deactivate: %v", err)
	}
	ad := store.ads["ad-1"]
	if ad.Active || ad.RemainingDays != 0 {
		test.Fatalf("deactivated ad must be archived, got %+v", ad)
	}
	if ad.UpdatedUnixUTC != 100 {
		test.Fatalf("deactivation must stamp the update time, got %d", ad.UpdatedUnixUTC)
	}
	if got := ResolveStatus(ad); got != StatusArchived {
		test.Fatalf("expected archived, got %s", got)
	}
}

func TestDeactivateIsOwnerOnly(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.ads["ad-1"] = Ad{AdID: "ad-1", UserID: "user-1", Active: true, RemainingDays: 10}
	service := mustNewService(test, store)

	err := service.Deactivate(context.Background(), "ad-1", Actor{ID: "admin-1", Admin: true})
	if !errors.Is(err, ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestDeactivateArchivedAdIsTerminal(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.ads["ad-1"] = Ad{AdID: "ad-1", UserID: "user-1", Active: false, RemainingDays: 0}
	service := mustNewService(test, store)

	err := service.Deactivate(context.Background(), "ad-1", Actor{ID: "user-1"})
	if !errors.Is(err, ErrAlreadyTerminal) {
		test.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}
