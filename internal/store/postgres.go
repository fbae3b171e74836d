package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const offerColumns = `o.id, o.fingerprint, o.title, o.company, o.location, o.department, o.description,
	o.contract_type, o.education_level, o.source, o.sources, o.source_url, o.external_id, o.posted_date,
	o.first_seen_at, o.last_seen_at, o.is_target_company, o.score, o.offer_type, o.filtered_out,
	o.filter_reasons, o.flags`

const trackingColumns = `t.offer_id, t.status, t.cv_sent, t.date_sent, t.follow_up_done, t.follow_up_date,
	t.notes, t.created_at, t.updated_at`

// --- Offers ---

func (s *PostgresStore) ListCanonicalOffers(ctx context.Context) ([]*models.Offer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+offerColumns+` FROM offers o ORDER BY o.first_seen_at, o.id`)
	if err != nil {
		return nil, fmt.Errorf("list canonical offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (s *PostgresStore) SaveOffer(ctx context.Context, o *models.Offer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO offers (id, fingerprint, title, company, location, department, description,
		   contract_type, education_level, source, sources, source_url, external_id, posted_date,
		   first_seen_at, last_seen_at, is_target_company, score, offer_type, filtered_out,
		   filter_reasons, flags)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		 ON CONFLICT (id) DO UPDATE SET
		   fingerprint = EXCLUDED.fingerprint,
		   title = EXCLUDED.title,
		   company = EXCLUDED.company,
		   location = EXCLUDED.location,
		   department = EXCLUDED.department,
		   description = EXCLUDED.description,
		   contract_type = EXCLUDED.contract_type,
		   education_level = EXCLUDED.education_level,
		   source = EXCLUDED.source,
		   sources = EXCLUDED.sources,
		   source_url = EXCLUDED.source_url,
		   external_id = EXCLUDED.external_id,
		   posted_date = EXCLUDED.posted_date,
		   first_seen_at = LEAST(offers.first_seen_at, EXCLUDED.first_seen_at),
		   last_seen_at = GREATEST(offers.last_seen_at, EXCLUDED.last_seen_at),
		   offer_type = EXCLUDED.offer_type,
		   updated_at = NOW()`,
		o.ID, o.Fingerprint, o.Title, o.Company, o.Location, o.Department, o.Description,
		string(o.ContractType), int(o.EducationLevel), string(o.Source), sourceStrings(o.Sources),
		o.SourceURL, o.ExternalID, o.PostedDate, o.FirstSeenAt, o.LastSeenAt,
		o.IsTargetCompany, o.Score, string(o.OfferType), o.FilteredOut,
		nonNil(o.FilterReasons), nonNil(o.Flags))
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("save offer: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateOfferEvaluation(ctx context.Context, id uuid.UUID, e models.Evaluation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE offers SET score = $2, is_target_company = $3, filtered_out = $4,
		   filter_reasons = $5, flags = $6, updated_at = NOW()
		 WHERE id = $1`,
		id, e.Score, e.IsTargetCompany, e.FilteredOut, nonNil(e.FilterReasons), nonNil(e.Flags))
	if err != nil {
		return fmt.Errorf("update offer evaluation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetOffer(ctx context.Context, id uuid.UUID) (*models.TrackedOffer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+offerColumns+`, `+trackingColumns+`
		 FROM offers o LEFT JOIN tracking t ON t.offer_id = o.id
		 WHERE o.id = $1`, id)
	to, err := scanTrackedOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return to, nil
}

func (s *PostgresStore) ListOffers(ctx context.Context, filter OfferFilter) ([]*models.TrackedOffer, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if !filter.IncludeFiltered {
		conditions = append(conditions, "o.filtered_out = FALSE")
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("COALESCE(t.status, 'New') = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(o.sources)", argIdx))
		args = append(args, string(filter.Source))
		argIdx++
	}
	if filter.Company != "" {
		conditions = append(conditions, fmt.Sprintf("o.company ILIKE $%d", argIdx))
		args = append(args, "%"+filter.Company+"%")
		argIdx++
	}
	if filter.TargetOnly {
		conditions = append(conditions, "o.is_target_company = TRUE")
	}
	if filter.MinScore != nil {
		conditions = append(conditions, fmt.Sprintf("o.score >= $%d", argIdx))
		args = append(args, *filter.MinScore)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")
	from := "offers o LEFT JOIN tracking t ON t.offer_id = o.id"

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+from+" WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count offers: %w", err)
	}

	limit, offset := filter.Pagination()
	dataQuery := fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s
		 ORDER BY o.score DESC, o.last_seen_at DESC, o.id LIMIT $%d OFFSET $%d`,
		offerColumns, trackingColumns, from, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	offers := []*models.TrackedOffer{}
	for rows.Next() {
		to, err := scanTrackedOffer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, to)
	}
	return offers, total, rows.Err()
}

// --- Tracking ---

func (s *PostgresStore) CreateTrackingIfAbsent(ctx context.Context, t *models.Tracking) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tracking (offer_id, status, cv_sent, date_sent, follow_up_done, follow_up_date, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (offer_id) DO NOTHING`,
		t.OfferID, string(t.Status), t.CVSent, t.DateSent, t.FollowUpDone, t.FollowUpDate,
		t.Notes, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("create tracking: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetTracking(ctx context.Context, offerID uuid.UUID) (*models.Tracking, error) {
	t, err := scanTracking(s.pool.QueryRow(ctx,
		`SELECT `+trackingColumns+` FROM tracking t WHERE t.offer_id = $1`, offerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) TrackingStats(ctx context.Context) (*models.TrackingStats, error) {
	stats := models.NewTrackingStats()
	if err := s.pool.QueryRow(ctx, trackingTotalsQuery).
		Scan(&stats.TotalOffers, &stats.Tracked, &stats.CVSent, &stats.FollowUps); err != nil {
		return nil, fmt.Errorf("count tracking: %w", err)
	}

	rows, err := s.pool.Query(ctx, trackingByStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("count tracking by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.StatusCounts[models.TrackingStatus(status)] = n
	}
	return stats, rows.Err()
}

func (s *PostgresStore) UpdateTracking(ctx context.Context, offerID uuid.UUID, fn func(*models.Tracking) error) (*models.Tracking, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tracking update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	t, err := scanTracking(tx.QueryRow(ctx,
		`SELECT `+trackingColumns+` FROM tracking t WHERE t.offer_id = $1 FOR UPDATE`, offerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock tracking: %w", err)
	}

	if err := fn(t); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE tracking SET status = $2, cv_sent = $3, date_sent = $4, follow_up_done = $5,
		   follow_up_date = $6, notes = $7, updated_at = $8
		 WHERE offer_id = $1`,
		offerID, string(t.Status), t.CVSent, t.DateSent, t.FollowUpDone, t.FollowUpDate, t.Notes, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update tracking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tracking update: %w", err)
	}
	return t, nil
}

// --- scanning ---

func scanOffer(row pgx.Row) (*models.Offer, error) {
	var (
		o                           models.Offer
		contract, source, offerType string
		education                   int
		sources, reasons, flags     []string
		postedDate                  *time.Time
	)
	err := row.Scan(&o.ID, &o.Fingerprint, &o.Title, &o.Company, &o.Location, &o.Department, &o.Description,
		&contract, &education, &source, &sources, &o.SourceURL, &o.ExternalID, &postedDate,
		&o.FirstSeenAt, &o.LastSeenAt, &o.IsTargetCompany, &o.Score, &offerType, &o.FilteredOut,
		&reasons, &flags)
	if err != nil {
		return nil, err
	}
	fillOffer(&o, contract, education, source, offerType, sources, reasons, flags, postedDate)
	return &o, nil
}

func scanTrackedOffer(row pgx.Row) (*models.TrackedOffer, error) {
	var (
		o                           models.Offer
		contract, source, offerType string
		education                   int
		sources, reasons, flags     []string
		postedDate                  *time.Time
		nt                          nullTracking
	)
	err := row.Scan(&o.ID, &o.Fingerprint, &o.Title, &o.Company, &o.Location, &o.Department, &o.Description,
		&contract, &education, &source, &sources, &o.SourceURL, &o.ExternalID, &postedDate,
		&o.FirstSeenAt, &o.LastSeenAt, &o.IsTargetCompany, &o.Score, &offerType, &o.FilteredOut,
		&reasons, &flags,
		&nt.offerID, &nt.status, &nt.cvSent, &nt.dateSent, &nt.followUpDone, &nt.followUpDate,
		&nt.notes, &nt.createdAt, &nt.updatedAt)
	if err != nil {
		return nil, err
	}
	fillOffer(&o, contract, education, source, offerType, sources, reasons, flags, postedDate)
	return &models.TrackedOffer{Offer: o, Tracking: nt.tracking()}, nil
}

func scanTracking(row pgx.Row) (*models.Tracking, error) {
	var (
		t      models.Tracking
		status string
	)
	err := row.Scan(&t.OfferID, &status, &t.CVSent, &t.DateSent, &t.FollowUpDone, &t.FollowUpDate,
		&t.Notes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.TrackingStatus(status)
	return &t, nil
}

// nullTracking receives the LEFT JOINed tracking columns.
type nullTracking struct {
	offerID      *uuid.UUID
	status       *string
	cvSent       *bool
	dateSent     *time.Time
	followUpDone *bool
	followUpDate *time.Time
	notes        *string
	createdAt    *time.Time
	updatedAt    *time.Time
}

func (n nullTracking) tracking() *models.Tracking {
	if n.offerID == nil {
		return nil
	}
	t := &models.Tracking{
		OfferID:      *n.offerID,
		DateSent:     n.dateSent,
		FollowUpDate: n.followUpDate,
	}
	if n.status != nil {
		t.Status = models.TrackingStatus(*n.status)
	}
	if n.cvSent != nil {
		t.CVSent = *n.cvSent
	}
	if n.followUpDone != nil {
		t.FollowUpDone = *n.followUpDone
	}
	if n.notes != nil {
		t.Notes = *n.notes
	}
	if n.createdAt != nil {
		t.CreatedAt = *n.createdAt
	}
	if n.updatedAt != nil {
		t.UpdatedAt = *n.updatedAt
	}
	return t
}

func fillOffer(o *models.Offer, contract string, education int, source, offerType string,
	sources, reasons, flags []string, postedDate *time.Time) {
	o.ContractType = models.ContractType(contract)
	o.EducationLevel = models.EducationLevel(education)
	o.Source = models.Source(source)
	o.OfferType = models.OfferType(offerType)
	o.Sources = make([]models.Source, 0, len(sources))
	for _, s := range sources {
		o.Sources = append(o.Sources, models.Source(s))
	}
	if len(reasons) > 0 {
		o.FilterReasons = reasons
	}
	if len(flags) > 0 {
		o.Flags = flags
	}
	if postedDate != nil {
		d := postedDate.UTC()
		o.PostedDate = &d
	}
	o.FirstSeenAt = o.FirstSeenAt.UTC()
	o.LastSeenAt = o.LastSeenAt.UTC()
}

func sourceStrings(sources []models.Source) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		out = append(out, string(s))
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
