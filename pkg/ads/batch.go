package ads

import (
	"context"
	"errors"
	"time"
)

// Day formats a clock instant as the batch day key.
func Day(unixUTC int64) string {
	return time.Unix(unixUTC, 0).UTC().Format(dayFormat)
}

// RunDailyDecrement burns one remaining day from every running ad, at most
// once per ad per day. The day tick row is inserted inside the same
// transaction as the decrement, so a rerun for the same day skips ads it
// already touched. One bad record never aborts the sweep. Ads reaching zero
// stay active here; the restore sweep archives them and recycles their free
// credits.
func (service *Service) RunDailyDecrement(ctx context.Context, day string) (BatchSummary, error) {
	summary := BatchSummary{}
	running, listError := service.store.ListRunningAds(ctx)
	if listError != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationDecrementJob,
			Error:     listError,
		})
		return summary, listError
	}
	for _, candidate := range running {
		tickError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if err := txStore.InsertDayTick(ctx, candidate.AdID, day); err != nil {
				return err
			}
			ad, err := txStore.GetAdForUpdate(ctx, candidate.AdID)
			if err != nil {
				return err
			}
			if ResolveStatus(ad) != StatusActive {
				return ErrInvalidTransition
			}
			ad.RemainingDays--
			ad.UpdatedUnixUTC = service.nowFn()
			return txStore.UpdateAd(ctx, ad)
		})
		switch {
		case tickError == nil:
			summary.Processed++
			summary.Subjects = append(summary.Subjects, candidate.AdID)
		case errors.Is(tickError, ErrDuplicateDayTick), errors.Is(tickError, ErrInvalidTransition):
			summary.Skipped++
		default:
			summary.Errored++
			service.logOperation(ctx, OperationLog{
				Operation: operationDecrementJob,
				AdID:      candidate.AdID,
				Error:     tickError,
			})
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationDecrementJob,
		Amount:    int64(summary.Processed),
	})
	return summary, nil
}

// RunFreeCreditRestore archives active ads whose window ran out, releases
// their free credits, and tops each affected user's free quota back up. Paid
// credits are spent for good and are never released.
func (service *Service) RunFreeCreditRestore(ctx context.Context) (BatchSummary, error) {
	summary := BatchSummary{}
	expired, listError := service.store.ListExpiredActiveAds(ctx)
	if listError != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationRestoreJob,
			Error:     listError,
		})
		return summary, listError
	}
	seenUsers := make(map[string]bool)
	for _, candidate := range expired {
		restoreError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			ad, err := txStore.GetAdForUpdate(ctx, candidate.AdID)
			if err != nil {
				return err
			}
			if !ad.Active || ad.RemainingDays > 0 {
				return ErrInvalidTransition
			}
			ad.Active = false
			ad.UpdatedUnixUTC = service.nowFn()
			if err := txStore.UpdateAd(ctx, ad); err != nil {
				return err
			}
			if ad.ReservationID == nil {
				return nil
			}
			credit, err := txStore.GetCredit(ctx, *ad.ReservationID)
			if err != nil {
				return err
			}
			if !credit.Free() {
				return nil
			}
			return txStore.ReleaseCredit(ctx, credit.CreditID, ad.AdID)
		})
		switch {
		case restoreError == nil:
			summary.Processed++
			if !seenUsers[candidate.UserID] {
				seenUsers[candidate.UserID] = true
				summary.Subjects = append(summary.Subjects, candidate.UserID)
			}
		case errors.Is(restoreError, ErrInvalidTransition):
			summary.Skipped++
		default:
			summary.Errored++
			service.logOperation(ctx, OperationLog{
				Operation: operationRestoreJob,
				AdID:      candidate.AdID,
				UserID:    candidate.UserID,
				Error:     restoreError,
			})
		}
	}
	for _, userID := range summary.Subjects {
		if _, err := service.EnsureFreeQuota(ctx, userID, CreditKindAd); err != nil {
			summary.Errored++
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationRestoreJob,
		Amount:    int64(summary.Processed),
	})
	return summary, nil
}
