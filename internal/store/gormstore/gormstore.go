package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintOrdersBuyOrder = "uniq_orders_buy_order"
	constraintDayTickPrimary = "ad_day_ticks_pkey"
	defaultDetailsJSON       = "{}"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	errorOperationStore      = "store"
	errorSubjectAd           = "ad"
	errorSubjectCredit       = "credit"
	errorSubjectPack         = "pack"
	errorSubjectOrder        = "order"
	errorSubjectPending      = "pending_payment"
	errorSubjectDayTick      = "day_tick"
	errorCodeInsert          = "insert"
	errorCodeGet             = "get"
	errorCodeUpdate          = "update"
	errorCodeList            = "list"
	errorCodeConsume         = "consume"
	errorCodeRelease         = "release"
	errorCodeCount           = "count"
	errorCodeDuplicate       = "duplicate"
	errorCodeConflict        = "conflict"
)

// Store implements ads.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ads.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) InsertAd(ctx context.Context, ad ads.Ad) error {
	record := adToRecord(ad)
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return wrapStoreError(errorSubjectAd, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetAd(ctx context.Context, adID string) (ads.Ad, error) {
	var record AdRecord
	err := store.db.WithContext(ctx).
		Where("ad_id = ?", adID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ads.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, ads.ErrAdNotFound)
		}
		return ads.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, err)
	}
	return recordToAd(record), nil
}

func (store *Store) GetAdForUpdate(ctx context.Context, adID string) (ads.Ad, error) {
	var record AdRecord
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("ad_id = ?", adID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ads.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, ads.ErrAdNotFound)
		}
		return ads.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, err)
	}
	return recordToAd(record), nil
}

func (store *Store) UpdateAd(ctx context.Context, ad ads.Ad) error {
	record := adToRecord(ad)
	result := store.db.WithContext(ctx).
		Model(&AdRecord{}).
		Where("ad_id = ?", ad.AdID).
		Select("*").
		Omit("ad_id", "created_at").
		Updates(&record)
	if result.Error != nil {
		return wrapStoreError(errorSubjectAd, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAd, errorCodeUpdate, ads.ErrAdNotFound)
	}
	return nil
}

func (store *Store) ListAds(ctx context.Context, filter ads.AdFilter) ([]ads.Ad, error) {
	query := store.db.WithContext(ctx).Model(&AdRecord{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	query = query.Order(orderClause(filter.OrderBy))
	var records []AdRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	return recordsToAds(records), nil
}

func (store *Store) ListRunningAds(ctx context.Context) ([]ads.Ad, error) {
	var records []AdRecord
	err := store.db.WithContext(ctx).
		Where("active = ? AND remaining_days > 0", true).
		Order("ad_id").
		Find(&records).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	return recordsToAds(records), nil
}

func (store *Store) ListExpiredActiveAds(ctx context.Context) ([]ads.Ad, error) {
	var records []AdRecord
	err := store.db.WithContext(ctx).
		Where("active = ? AND remaining_days = 0", true).
		Order("ad_id").
		Find(&records).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	return recordsToAds(records), nil
}

func (store *Store) InsertCredit(ctx context.Context, credit ads.Credit) error {
	record := creditToRecord(credit)
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return wrapStoreError(errorSubjectCredit, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetCredit(ctx context.Context, creditID string) (ads.Credit, error) {
	var record CreditRecord
	err := store.db.WithContext(ctx).
		Where("credit_id = ?", creditID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ads.Credit{}, wrapStoreError(errorSubjectCredit, errorCodeGet, ads.ErrCreditNotFound)
		}
		return ads.Credit{}, wrapStoreError(errorSubjectCredit, errorCodeGet, err)
	}
	return recordToCredit(record)
}

func (store *Store) FindAvailableCredit(ctx context.Context, userID string, kind ads.CreditKind, free bool) (ads.Credit, error) {
	priceCondition := "price_cents = 0"
	if !free {
		priceCondition = "price_cents > 0"
	}
	var record CreditRecord
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND kind = ? AND ad_id IS NULL", userID, kind.String()).
		Where(priceCondition).
		Order("created_at, credit_id").
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ads.Credit{}, wrapStoreError(errorSubjectCredit, errorCodeGet, ads.ErrCreditNotFound)
		}
		return ads.Credit{}, wrapStoreError(errorSubjectCredit, errorCodeGet, err)
	}
	return recordToCredit(record)
}

// ConsumeCredit links the credit to the ad only when it is still unconsumed.
// The ad_id IS NULL guard makes the update a compare-and-set.
func (store *Store) ConsumeCredit(ctx context.Context, creditID string, adID string) error {
	result := store.db.WithContext(ctx).
		Model(&CreditRecord{}).
		Where("credit_id = ? AND ad_id IS NULL", creditID).
		Update("ad_id", adID)
	if result.Error != nil {
		return wrapStoreError(errorSubjectCredit, errorCodeConsume, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := store.db.WithContext(ctx).Model(&CreditRecord{}).Where("credit_id = ?", creditID).Count(&count).Error; err != nil {
			return wrapStoreError(errorSubjectCredit, errorCodeConsume, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectCredit, errorCodeConsume, ads.ErrCreditNotFound)
		}
		return wrapStoreError(errorSubjectCredit, errorCodeConsume, ads.ErrCreditConsumed)
	}
	return nil
}

func (store *Store) ReleaseCredit(ctx context.Context, creditID string, adID string) error {
	result := store.db.WithContext(ctx).
		Model(&CreditRecord{}).
		Where("credit_id = ? AND ad_id = ?", creditID, adID).
		Update("ad_id", nil)
	if result.Error != nil {
		return wrapStoreError(errorSubjectCredit, errorCodeRelease, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCredit, errorCodeRelease, ads.ErrCreditNotFound)
	}
	return nil
}

// CountFreeCreditStock counts a user's free credits that are either still
// available or consumed by an ad with remaining days. Credits spent on
// expired ads no longer count toward the standing quota.
func (store *Store) CountFreeCreditStock(ctx context.Context, userID string, kind ads.CreditKind) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CreditRecord{}).
		Joins("LEFT JOIN ads ON ads.ad_id = ad_credits.ad_id").
		Where("ad_credits.user_id = ? AND ad_credits.kind = ? AND ad_credits.price_cents = 0", userID, kind.String()).
		Where("ad_credits.ad_id IS NULL OR ads.remaining_days > 0").
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectCredit, errorCodeCount, err)
	}
	return int(count), nil
}

func (store *Store) ListCredits(ctx context.Context, userID string) ([]ads.Credit, error) {
	var records []CreditRecord
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at, credit_id").
		Find(&records).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCredit, errorCodeList, err)
	}
	credits := make([]ads.Credit, 0, len(records))
	for _, record := range records {
		credit, err := recordToCredit(record)
		if err != nil {
			return nil, err
		}
		credits = append(credits, credit)
	}
	return credits, nil
}

func (store *Store) GetPack(ctx context.Context, packID string) (ads.Pack, error) {
	var record PackRecord
	err := store.db.WithContext(ctx).
		Where("pack_id = ? AND active = ?", packID, true).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ads.Pack{}, wrapStoreError(errorSubjectPack, errorCodeGet, ads.ErrPackNotFound)
		}
		return ads.Pack{}, wrapStoreError(errorSubjectPack, errorCodeGet, err)
	}
	return recordToPack(record), nil
}

func (store *Store) ListPacks(ctx context.Context) ([]ads.Pack, error) {
	var records []PackRecord
	err := store.db.WithContext(ctx).
		Where("active = ?", true).
		Order("price_cents").
		Find(&records).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPack, errorCodeList, err)
	}
	packs := make([]ads.Pack, 0, len(records))
	for _, record := range records {
		packs = append(packs, recordToPack(record))
	}
	return packs, nil
}

func (store *Store) InsertOrder(ctx context.Context, order ads.Order) error {
	record := OrderRecord{
		OrderID:          order.OrderID,
		UserID:           order.UserID,
		AdID:             order.AdID,
		AmountCents:      order.AmountCents,
		BuyOrder:         order.BuyOrder,
		PaymentMethod:    order.PaymentMethod,
		PaymentResponse:  detailsJSON(order.PaymentResponseJSON),
		DocumentResponse: detailsJSON(order.DocumentResponseJSON),
		CreatedAt:        time.Unix(order.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isBuyOrderConflict(err) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, ads.ErrDuplicateBuyOrder)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetOrderByBuyOrder(ctx context.Context, buyOrder string) (ads.Order, error) {
	var record OrderRecord
	err := store.db.WithContext(ctx).
		Where("buy_order = ?", buyOrder).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ads.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, ads.ErrOrderNotFound)
		}
		return ads.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return ads.Order{
		OrderID:              record.OrderID,
		UserID:               record.UserID,
		AdID:                 record.AdID,
		AmountCents:          record.AmountCents,
		BuyOrder:             record.BuyOrder,
		PaymentMethod:        record.PaymentMethod,
		PaymentResponseJSON:  string(record.PaymentResponse),
		DocumentResponseJSON: string(record.DocumentResponse),
		CreatedUnixUTC:       record.CreatedAt.Unix(),
	}, nil
}

func (store *Store) InsertPendingPayment(ctx context.Context, payment ads.PendingPayment) error {
	record := PendingPaymentRecord{
		BuyOrder:    payment.BuyOrder,
		UserID:      payment.UserID,
		AdID:        payment.AdID,
		AmountCents: payment.AmountCents,
		Token:       payment.Token,
		Status:      payment.Status.String(),
		CreatedAt:   time.Unix(payment.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&record).Error; err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetPendingPayment(ctx context.Context, buyOrder string) (ads.PendingPayment, error) {
	var record PendingPaymentRecord
	err := store.db.WithContext(ctx).
		Where("buy_order = ?", buyOrder).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ads.PendingPayment{}, wrapStoreError(errorSubjectPending, errorCodeGet, ads.ErrPendingPaymentNotFound)
		}
		return ads.PendingPayment{}, wrapStoreError(errorSubjectPending, errorCodeGet, err)
	}
	return ads.PendingPayment{
		BuyOrder:       record.BuyOrder,
		UserID:         record.UserID,
		AdID:           record.AdID,
		AmountCents:    record.AmountCents,
		Token:          record.Token,
		Status:         ads.PendingPaymentStatus(record.Status),
		CreatedUnixUTC: record.CreatedAt.Unix(),
	}, nil
}

func (store *Store) UpdatePendingPaymentToken(ctx context.Context, buyOrder string, token string) error {
	result := store.db.WithContext(ctx).
		Model(&PendingPaymentRecord{}).
		Where("buy_order = ?", buyOrder).
		Update("token", token)
	if result.Error != nil {
		return wrapStoreError(errorSubjectPending, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPending, errorCodeUpdate, ads.ErrPendingPaymentNotFound)
	}
	return nil
}

// UpdatePendingPaymentStatus moves the record from one status to another,
// failing when a concurrent caller got there first.
func (store *Store) UpdatePendingPaymentStatus(ctx context.Context, buyOrder string, from, to ads.PendingPaymentStatus) error {
	result := store.db.WithContext(ctx).
		Model(&PendingPaymentRecord{}).
		Where("buy_order = ? AND status = ?", buyOrder, from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectPending, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := store.db.WithContext(ctx).Model(&PendingPaymentRecord{}).Where("buy_order = ?", buyOrder).Count(&count).Error; err != nil {
			return wrapStoreError(errorSubjectPending, errorCodeUpdate, err)
		}
		if count == 0 {
			return wrapStoreError(errorSubjectPending, errorCodeUpdate, ads.ErrPendingPaymentNotFound)
		}
		return wrapStoreError(errorSubjectPending, errorCodeConflict, ads.ErrPaymentStateConflict)
	}
	return nil
}

func (store *Store) InsertDayTick(ctx context.Context, adID string, day string) error {
	record := DayTickRecord{
		AdID:      adID,
		Day:       day,
		CreatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&record).Error
	if isDayTickConflict(err) {
		return wrapStoreError(errorSubjectDayTick, errorCodeDuplicate, ads.ErrDuplicateDayTick)
	}
	if err != nil {
		return wrapStoreError(errorSubjectDayTick, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ads.WrapError(errorOperationStore, subject, code, err)
}

func orderClause(orderBy string) string {
	switch orderBy {
	case "created_at":
		return "created_at DESC"
	default:
		return "name"
	}
}

func adToRecord(ad ads.Ad) AdRecord {
	return AdRecord{
		AdID:                  ad.AdID,
		UserID:                ad.UserID,
		Name:                  ad.Name,
		Description:           ad.Description,
		Active:                ad.Active,
		Banned:                ad.Banned,
		Rejected:              ad.Rejected,
		RemainingDays:         ad.RemainingDays,
		DurationDays:          ad.DurationDays,
		IsPaid:                ad.IsPaid,
		ReservationID:         ad.ReservationID,
		FeaturedReservationID: ad.FeaturedReservationID,
		Details:               detailsJSON(ad.DetailsJSON),
		ActivatedBy:           ad.ActivatedBy,
		ActivatedAt:           unixToTime(ad.ActivatedUnixUTC),
		RejectedBy:            ad.RejectedBy,
		RejectedAt:            unixToTime(ad.RejectedUnixUTC),
		RejectReason:          ad.RejectReason,
		BannedBy:              ad.BannedBy,
		BannedAt:              unixToTime(ad.BannedUnixUTC),
		BanReason:             ad.BanReason,
		CreatedAt:             time.Unix(ad.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:             time.Unix(ad.UpdatedUnixUTC, 0).UTC(),
	}
}

func recordToAd(record AdRecord) ads.Ad {
	return ads.Ad{
		AdID:                  record.AdID,
		UserID:                record.UserID,
		Name:                  record.Name,
		Description:           record.Description,
		Active:                record.Active,
		Banned:                record.Banned,
		Rejected:              record.Rejected,
		RemainingDays:         record.RemainingDays,
		DurationDays:          record.DurationDays,
		IsPaid:                record.IsPaid,
		ReservationID:         record.ReservationID,
		FeaturedReservationID: record.FeaturedReservationID,
		DetailsJSON:           string(record.Details),
		ActivatedBy:           record.ActivatedBy,
		ActivatedUnixUTC:      timeOrZero(record.ActivatedAt),
		RejectedBy:            record.RejectedBy,
		RejectedUnixUTC:       timeOrZero(record.RejectedAt),
		RejectReason:          record.RejectReason,
		BannedBy:              record.BannedBy,
		BannedUnixUTC:         timeOrZero(record.BannedAt),
		BanReason:             record.BanReason,
		CreatedUnixUTC:        record.CreatedAt.Unix(),
		UpdatedUnixUTC:        record.UpdatedAt.Unix(),
	}
}

func recordsToAds(records []AdRecord) []ads.Ad {
	list := make([]ads.Ad, 0, len(records))
	for _, record := range records {
		list = append(list, recordToAd(record))
	}
	return list
}

func creditToRecord(credit ads.Credit) CreditRecord {
	return CreditRecord{
		CreditID:    credit.CreditID,
		UserID:      credit.UserID,
		Kind:        credit.Kind.String(),
		PriceCents:  credit.PriceCents,
		TotalDays:   credit.TotalDays,
		AdID:        credit.AdID,
		Description: credit.Description,
		CreatedAt:   time.Unix(credit.CreatedUnixUTC, 0).UTC(),
	}
}

func recordToCredit(record CreditRecord) (ads.Credit, error) {
	kind, err := ads.ParseCreditKind(record.Kind)
	if err != nil {
		return ads.Credit{}, wrapStoreError(errorSubjectCredit, errorCodeGet, err)
	}
	return ads.Credit{
		CreditID:       record.CreditID,
		UserID:         record.UserID,
		Kind:           kind,
		PriceCents:     record.PriceCents,
		TotalDays:      record.TotalDays,
		AdID:           record.AdID,
		Description:    record.Description,
		CreatedUnixUTC: record.CreatedAt.Unix(),
	}, nil
}

func recordToPack(record PackRecord) ads.Pack {
	return ads.Pack{
		PackID:        record.PackID,
		Name:          record.Name,
		PriceCents:    record.PriceCents,
		TotalAds:      record.TotalAds,
		TotalDays:     record.TotalDays,
		TotalFeatures: record.TotalFeatures,
		Active:        record.Active,
	}
}

func unixToTime(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func detailsJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultDetailsJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isBuyOrderConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintOrdersBuyOrder
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isDayTickConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintDayTickPrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
