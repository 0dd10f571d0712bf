package ads

import "context"

// AvailableCredit selects one unconsumed credit for the user, oldest first.
// The read is not a reservation: allocation is only final once ConsumeCredit
// succeeds, so two racing settlements resolve to one winner at the store's
// conditional update.
func (service *Service) AvailableCredit(ctx context.Context, userID string, kind CreditKind, free bool) (Credit, error) {
	return service.store.FindAvailableCredit(ctx, userID, kind, free)
}

// CreateCredit mints a new credit, optionally pre-consumed when input.AdID
// is set.
func (service *Service) CreateCredit(ctx context.Context, input CreditInput) (Credit, error) {
	credit := Credit{
		CreditID:       service.idFn(),
		UserID:         input.UserID,
		Kind:           input.Kind,
		PriceCents:     input.PriceCents,
		TotalDays:      input.TotalDays,
		AdID:           input.AdID,
		Description:    input.Description,
		CreatedUnixUTC: service.nowFn(),
	}
	operationError := service.store.InsertCredit(ctx, credit)
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateCredit,
		UserID:    input.UserID,
		CreditID:  credit.CreditID,
		Amount:    input.PriceCents,
		Error:     operationError,
	})
	if operationError != nil {
		return Credit{}, operationError
	}
	return credit, nil
}

// Consume links a credit to an ad. Fails with ErrCreditConsumed when the
// credit was already taken; it never overwrites an existing link.
func (service *Service) Consume(ctx context.Context, creditID string, adID string) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		return txStore.ConsumeCredit(ctx, creditID, adID)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationConsumeCredit,
		AdID:      adID,
		CreditID:  creditID,
		Error:     operationError,
	})
	return operationError
}

// EnsureFreeQuota tops the user's free credits of the given kind back up to
// the configured quota, counting both available credits and credits consumed
// by ads that still have remaining days. Idempotent: at quota it creates
// nothing. Returns how many credits were minted.
func (service *Service) EnsureFreeQuota(ctx context.Context, userID string, kind CreditKind) (int, error) {
	created := 0
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		stock, err := txStore.CountFreeCreditStock(ctx, userID, kind)
		if err != nil {
			return err
		}
		for minted := stock; minted < service.config.FreeQuota; minted++ {
			credit := Credit{
				CreditID:       service.idFn(),
				UserID:         userID,
				Kind:           kind,
				PriceCents:     0,
				TotalDays:      service.config.DefaultDurationDays,
				Description:    freeCreditDescription,
				CreatedUnixUTC: service.nowFn(),
			}
			if err := txStore.InsertCredit(ctx, credit); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationEnsureQuota,
		UserID:    userID,
		Amount:    int64(created),
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return created, nil
}
