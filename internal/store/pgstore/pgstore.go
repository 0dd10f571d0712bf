package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
)

const (
	constraintOrdersBuyOrder = "uniq_orders_buy_order"
	constraintDayTickPrimary = "ad_day_ticks_pkey"
	pgUniqueViolationCode    = "23505"
	errorOperationStore      = "store"
	errorSubjectAd           = "ad"
	errorSubjectCredit       = "credit"
	errorSubjectPack         = "pack"
	errorSubjectOrder        = "order"
	errorSubjectPending      = "pending_payment"
	errorSubjectDayTick      = "day_tick"
	errorSubjectTransaction  = "transaction"
	errorCodeBegin           = "begin"
	errorCodeCommit          = "commit"
	errorCodeInsert          = "insert"
	errorCodeGet             = "get"
	errorCodeUpdate          = "update"
	errorCodeList            = "list"
	errorCodeConsume         = "consume"
	errorCodeRelease         = "release"
	errorCodeCount           = "count"
	errorCodeDuplicate       = "duplicate"
	errorCodeConflict        = "conflict"
	errorCodeInvalid         = "invalid"

	sqlAdColumns = `
		ad_id::text, user_id, name, coalesce(description,''),
		active, banned, rejected, remaining_days, duration_days, is_paid,
		reservation_id, featured_reservation_id,
		coalesce(details::text,'{}'),
		coalesce(activated_by,''), coalesce(extract(epoch from activated_at)::bigint,0),
		coalesce(rejected_by,''), coalesce(extract(epoch from rejected_at)::bigint,0), coalesce(reject_reason,''),
		coalesce(banned_by,''), coalesce(extract(epoch from banned_at)::bigint,0), coalesce(ban_reason,''),
		extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
	`

	sqlInsertAd = `
		insert into ads(
			ad_id, user_id, name, description,
			active, banned, rejected, remaining_days, duration_days, is_paid,
			reservation_id, featured_reservation_id, details,
			activated_by, activated_at, rejected_by, rejected_at, reject_reason,
			banned_by, banned_at, ban_reason, created_at, updated_at
		)
		values(
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, coalesce(nullif($13,''),'{}')::jsonb,
			nullif($14,''), to_timestamp(nullif($15,0)),
			nullif($16,''), to_timestamp(nullif($17,0)), nullif($18,''),
			nullif($19,''), to_timestamp(nullif($20,0)), nullif($21,''),
			to_timestamp($22), to_timestamp($23)
		)
	`

	sqlUpdateAd = `
		update ads set
			user_id = $2, name = $3, description = $4,
			active = $5, banned = $6, rejected = $7,
			remaining_days = $8, duration_days = $9, is_paid = $10,
			reservation_id = $11, featured_reservation_id = $12,
			details = coalesce(nullif($13,''),'{}')::jsonb,
			activated_by = nullif($14,''), activated_at = to_timestamp(nullif($15,0)),
			rejected_by = nullif($16,''), rejected_at = to_timestamp(nullif($17,0)), reject_reason = nullif($18,''),
			banned_by = nullif($19,''), banned_at = to_timestamp(nullif($20,0)), ban_reason = nullif($21,''),
			updated_at = to_timestamp($22)
		where ad_id = $1
	`

	sqlCreditColumns = `
		credit_id::text, user_id, kind, price_cents, total_days, ad_id, coalesce(description,''),
		extract(epoch from created_at)::bigint
	`

	sqlInsertCredit = `
		insert into ad_credits(credit_id, user_id, kind, price_cents, total_days, ad_id, description, created_at)
		values($1, $2, $3, $4, $5, $6, nullif($7,''), to_timestamp($8))
	`

	sqlConsumeCredit = `
		update ad_credits set ad_id = $2
		where credit_id = $1 and ad_id is null
	`

	sqlReleaseCredit = `
		update ad_credits set ad_id = null
		where credit_id = $1 and ad_id = $2
	`

	sqlCountFreeCreditStock = `
		select count(*)
		from ad_credits
		left join ads on ads.ad_id = ad_credits.ad_id
		where ad_credits.user_id = $1 and ad_credits.kind = $2 and ad_credits.price_cents = 0
		and (ad_credits.ad_id is null or ads.remaining_days > 0)
	`

	sqlPackColumns = `pack_id, name, price_cents, total_ads, total_days, total_features, active`

	sqlInsertOrder = `
		insert into orders(order_id, user_id, ad_id, amount_cents, buy_order, payment_method, payment_response, document_response, created_at)
		values($1, $2, $3, $4, $5, $6,
			coalesce(nullif($7,''),'{}')::jsonb,
			coalesce(nullif($8,''),'{}')::jsonb,
			to_timestamp($9))
	`

	sqlSelectOrderByBuyOrder = `
		select order_id::text, user_id, ad_id::text, amount_cents, buy_order, payment_method,
			coalesce(payment_response::text,'{}'), coalesce(document_response::text,'{}'),
			extract(epoch from created_at)::bigint
		from orders
		where buy_order = $1
	`

	sqlInsertPendingPayment = `
		insert into pending_payments(buy_order, user_id, ad_id, amount_cents, token, status, created_at)
		values($1, $2, $3, $4, nullif($5,''), $6, to_timestamp($7))
	`

	sqlSelectPendingPayment = `
		select buy_order, user_id, ad_id::text, amount_cents, coalesce(token,''), status,
			extract(epoch from created_at)::bigint
		from pending_payments
		where buy_order = $1
	`

	sqlUpdatePendingToken = `
		update pending_payments set token = $2 where buy_order = $1
	`

	sqlUpdatePendingStatus = `
		update pending_payments set status = $3 where buy_order = $1 and status = $2
	`

	sqlCountPendingPayment = `
		select count(*) from pending_payments where buy_order = $1
	`

	sqlInsertDayTick = `
		insert into ad_day_ticks(ad_id, day, created_at) values($1, $2, now())
	`
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ads.Store over raw pgx. Outside a transaction it runs in
// autocommit against the pool; WithTx hands callers a tx-bound copy.
type Store struct {
	db   querier
	pool *pgxpool.Pool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ads.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) InsertAd(ctx context.Context, ad ads.Ad) error {
	_, err := store.db.Exec(ctx, sqlInsertAd,
		ad.AdID, ad.UserID, ad.Name, ad.Description,
		ad.Active, ad.Banned, ad.Rejected, ad.RemainingDays, ad.DurationDays, ad.IsPaid,
		ad.ReservationID, ad.FeaturedReservationID, ad.DetailsJSON,
		ad.ActivatedBy, ad.ActivatedUnixUTC,
		ad.RejectedBy, ad.RejectedUnixUTC, ad.RejectReason,
		ad.BannedBy, ad.BannedUnixUTC, ad.BanReason,
		ad.CreatedUnixUTC, ad.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAd, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetAd(ctx context.Context, adID string) (ads.Ad, error) {
	row := store.db.QueryRow(ctx, `select `+sqlAdColumns+` from ads where ad_id = $1`, adID)
	return scanAd(row)
}

func (store *Store) GetAdForUpdate(ctx context.Context, adID string) (ads.Ad, error) {
	row := store.db.QueryRow(ctx, `select `+sqlAdColumns+` from ads where ad_id = $1 for update`, adID)
	return scanAd(row)
}

func (store *Store) UpdateAd(ctx context.Context, ad ads.Ad) error {
	tag, err := store.db.Exec(ctx, sqlUpdateAd,
		ad.AdID, ad.UserID, ad.Name, ad.Description,
		ad.Active, ad.Banned, ad.Rejected,
		ad.RemainingDays, ad.DurationDays, ad.IsPaid,
		ad.ReservationID, ad.FeaturedReservationID,
		ad.DetailsJSON,
		ad.ActivatedBy, ad.ActivatedUnixUTC,
		ad.RejectedBy, ad.RejectedUnixUTC, ad.RejectReason,
		ad.BannedBy, ad.BannedUnixUTC, ad.BanReason,
		ad.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAd, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAd, errorCodeUpdate, ads.ErrAdNotFound)
	}
	return nil
}

func (store *Store) ListAds(ctx context.Context, filter ads.AdFilter) ([]ads.Ad, error) {
	query := `select ` + sqlAdColumns + ` from ads`
	args := []any{}
	if filter.UserID != "" {
		query += ` where user_id = $1`
		args = append(args, filter.UserID)
	}
	if filter.OrderBy == "created_at" {
		query += ` order by created_at desc`
	} else {
		query += ` order by name`
	}
	rows, err := store.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	defer rows.Close()
	return scanAds(rows)
}

func (store *Store) ListRunningAds(ctx context.Context) ([]ads.Ad, error) {
	rows, err := store.db.Query(ctx, `select `+sqlAdColumns+` from ads where active and remaining_days > 0 order by ad_id`)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	defer rows.Close()
	return scanAds(rows)
}

func (store *Store) ListExpiredActiveAds(ctx context.Context) ([]ads.Ad, error) {
	rows, err := store.db.Query(ctx, `select `+sqlAdColumns+` from ads where active and remaining_days = 0 order by ad_id`)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	defer rows.Close()
	return scanAds(rows)
}

func (store *Store) InsertCredit(ctx context.Context, credit ads.Credit) error {
	_, err := store.db.Exec(ctx, sqlInsertCredit,
		credit.CreditID, credit.UserID, credit.Kind.String(),
		credit.PriceCents, credit.TotalDays, credit.AdID,
		credit.Description, credit.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectCredit, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetCredit(ctx context.Context, creditID string) (ads.Credit, error) {
	row := store.db.QueryRow(ctx, `select `+sqlCreditColumns+` from ad_credits where credit_id = $1`, creditID)
	return scanCredit(row)
}

func (store *Store) FindAvailableCredit(ctx context.Context, userID string, kind ads.CreditKind, free bool) (ads.Credit, error) {
	priceCondition := `price_cents = 0`
	if !free {
		priceCondition = `price_cents > 0`
	}
	row := store.db.QueryRow(ctx,
		`select `+sqlCreditColumns+` from ad_credits
		where user_id = $1 and kind = $2 and ad_id is null and `+priceCondition+`
		order by created_at, credit_id limit 1 for update`,
		userID, kind.String())
	return scanCredit(row)
}

func (store *Store) ConsumeCredit(ctx context.Context, creditID string, adID string) error {
	tag, err := store.db.Exec(ctx, sqlConsumeCredit, creditID, adID)
	if err != nil {
		return wrapStoreError(errorSubjectCredit, errorCodeConsume, err)
	}
	if tag.RowsAffected() == 0 {
		var count int64
		if err := store.db.QueryRow(ctx, `select count(*) from ad_credits where credit_id = $1`, creditID).Scan(&count); err != nil {
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
	tag, err := store.db.Exec(ctx, sqlReleaseCredit, creditID, adID)
	if err != nil {
		return wrapStoreError(errorSubjectCredit, errorCodeRelease, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectCredit, errorCodeRelease, ads.ErrCreditNotFound)
	}
	return nil
}

func (store *Store) CountFreeCreditStock(ctx context.Context, userID string, kind ads.CreditKind) (int, error) {
	var count int64
	if err := store.db.QueryRow(ctx, sqlCountFreeCreditStock, userID, kind.String()).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectCredit, errorCodeCount, err)
	}
	return int(count), nil
}

func (store *Store) ListCredits(ctx context.Context, userID string) ([]ads.Credit, error) {
	rows, err := store.db.Query(ctx,
		`select `+sqlCreditColumns+` from ad_credits where user_id = $1 order by created_at, credit_id`, userID)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCredit, errorCodeList, err)
	}
	defer rows.Close()
	credits := make([]ads.Credit, 0, 16)
	for rows.Next() {
		credit, err := scanCreditRow(rows)
		if err != nil {
			return nil, err
		}
		credits = append(credits, credit)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectCredit, errorCodeList, err)
	}
	return credits, nil
}

func (store *Store) GetPack(ctx context.Context, packID string) (ads.Pack, error) {
	row := store.db.QueryRow(ctx, `select `+sqlPackColumns+` from ad_packs where pack_id = $1 and active`, packID)
	pack, err := scanPack(row)
	if err != nil {
		return ads.Pack{}, err
	}
	return pack, nil
}

func (store *Store) ListPacks(ctx context.Context) ([]ads.Pack, error) {
	rows, err := store.db.Query(ctx, `select `+sqlPackColumns+` from ad_packs where active order by price_cents`)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPack, errorCodeList, err)
	}
	defer rows.Close()
	packs := make([]ads.Pack, 0, 8)
	for rows.Next() {
		var pack ads.Pack
		if err := rows.Scan(&pack.PackID, &pack.Name, &pack.PriceCents, &pack.TotalAds, &pack.TotalDays, &pack.TotalFeatures, &pack.Active); err != nil {
			return nil, wrapStoreError(errorSubjectPack, errorCodeInvalid, err)
		}
		packs = append(packs, pack)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPack, errorCodeList, err)
	}
	return packs, nil
}

func (store *Store) InsertOrder(ctx context.Context, order ads.Order) error {
	_, err := store.db.Exec(ctx, sqlInsertOrder,
		order.OrderID, order.UserID, order.AdID, order.AmountCents,
		order.BuyOrder, order.PaymentMethod,
		order.PaymentResponseJSON, order.DocumentResponseJSON,
		order.CreatedUnixUTC,
	)
	if isBuyOrderConflict(err) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, ads.ErrDuplicateBuyOrder)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetOrderByBuyOrder(ctx context.Context, buyOrder string) (ads.Order, error) {
	var order ads.Order
	err := store.db.QueryRow(ctx, sqlSelectOrderByBuyOrder, buyOrder).Scan(
		&order.OrderID, &order.UserID, &order.AdID, &order.AmountCents,
		&order.BuyOrder, &order.PaymentMethod,
		&order.PaymentResponseJSON, &order.DocumentResponseJSON,
		&order.CreatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ads.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, ads.ErrOrderNotFound)
		}
		return ads.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return order, nil
}

func (store *Store) InsertPendingPayment(ctx context.Context, payment ads.PendingPayment) error {
	_, err := store.db.Exec(ctx, sqlInsertPendingPayment,
		payment.BuyOrder, payment.UserID, payment.AdID, payment.AmountCents,
		payment.Token, payment.Status.String(), payment.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetPendingPayment(ctx context.Context, buyOrder string) (ads.PendingPayment, error) {
	var payment ads.PendingPayment
	var statusValue string
	err := store.db.QueryRow(ctx, sqlSelectPendingPayment, buyOrder).Scan(
		&payment.BuyOrder, &payment.UserID, &payment.AdID, &payment.AmountCents,
		&payment.Token, &statusValue, &payment.CreatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ads.PendingPayment{}, wrapStoreError(errorSubjectPending, errorCodeGet, ads.ErrPendingPaymentNotFound)
		}
		return ads.PendingPayment{}, wrapStoreError(errorSubjectPending, errorCodeGet, err)
	}
	payment.Status = ads.PendingPaymentStatus(statusValue)
	return payment, nil
}

func (store *Store) UpdatePendingPaymentToken(ctx context.Context, buyOrder string, token string) error {
	tag, err := store.db.Exec(ctx, sqlUpdatePendingToken, buyOrder, token)
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPending, errorCodeUpdate, ads.ErrPendingPaymentNotFound)
	}
	return nil
}

func (store *Store) UpdatePendingPaymentStatus(ctx context.Context, buyOrder string, from, to ads.PendingPaymentStatus) error {
	tag, err := store.db.Exec(ctx, sqlUpdatePendingStatus, buyOrder, from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectPending, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		var count int64
		if err := store.db.QueryRow(ctx, sqlCountPendingPayment, buyOrder).Scan(&count); err != nil {
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
	_, err := store.db.Exec(ctx, sqlInsertDayTick, adID, day)
	if isDayTickConflict(err) {
		return wrapStoreError(errorSubjectDayTick, errorCodeDuplicate, ads.ErrDuplicateDayTick)
	}
	if err != nil {
		return wrapStoreError(errorSubjectDayTick, errorCodeInsert, err)
	}
	return nil
}

func scanAd(row pgx.Row) (ads.Ad, error) {
	var ad ads.Ad
	err := row.Scan(
		&ad.AdID, &ad.UserID, &ad.Name, &ad.Description,
		&ad.Active, &ad.Banned, &ad.Rejected, &ad.RemainingDays, &ad.DurationDays, &ad.IsPaid,
		&ad.ReservationID, &ad.FeaturedReservationID,
		&ad.DetailsJSON,
		&ad.ActivatedBy, &ad.ActivatedUnixUTC,
		&ad.RejectedBy, &ad.RejectedUnixUTC, &ad.RejectReason,
		&ad.BannedBy, &ad.BannedUnixUTC, &ad.BanReason,
		&ad.CreatedUnixUTC, &ad.UpdatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ads.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, ads.ErrAdNotFound)
		}
		return ads.Ad{}, wrapStoreError(errorSubjectAd, errorCodeGet, err)
	}
	return ad, nil
}

func scanAds(rows pgx.Rows) ([]ads.Ad, error) {
	list := make([]ads.Ad, 0, 32)
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAd, errorCodeList, err)
	}
	return list, nil
}

func scanCredit(row pgx.Row) (ads.Credit, error) {
	credit, err := scanCreditRow(row)
	if err != nil {
		return ads.Credit{}, err
	}
	return credit, nil
}

func scanCreditRow(row pgx.Row) (ads.Credit, error) {
	var credit ads.Credit
	var kindValue string
	err := row.Scan(
		&credit.CreditID, &credit.UserID, &kindValue,
		&credit.PriceCents, &credit.TotalDays, &credit.AdID,
		&credit.Description, &credit.CreatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ads.Credit{}, wrapStoreError(errorSubjectCredit, errorCodeGet, ads.ErrCreditNotFound)
		}
		return ads.Credit{}, wrapStoreError(errorSubjectCredit, errorCodeGet, err)
	}
	kind, err := ads.ParseCreditKind(kindValue)
	if err != nil {
		return ads.Credit{}, wrapStoreError(errorSubjectCredit, errorCodeInvalid, err)
	}
	credit.Kind = kind
	return credit, nil
}

func scanPack(row pgx.Row) (ads.Pack, error) {
	var pack ads.Pack
	err := row.Scan(&pack.PackID, &pack.Name, &pack.PriceCents, &pack.TotalAds, &pack.TotalDays, &pack.TotalFeatures, &pack.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ads.Pack{}, wrapStoreError(errorSubjectPack, errorCodeGet, ads.ErrPackNotFound)
		}
		return ads.Pack{}, wrapStoreError(errorSubjectPack, errorCodeGet, err)
	}
	return pack, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ads.WrapError(errorOperationStore, subject, code, err)
}

func isBuyOrderConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintOrdersBuyOrder
	}
	return false
}

func isDayTickConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintDayTickPrimary
	}
	return false
}
