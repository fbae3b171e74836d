package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const (
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
	dateLayout = "2006-01-02"
)

// SQLiteStore implements the Store interface on a single SQLite file for
// local, single-user installs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers, which is what the tracking
	// read-modify-write relies on.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS offers (
			id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			company TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			contract_type TEXT NOT NULL DEFAULT 'unknown',
			education_level INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			sources TEXT NOT NULL DEFAULT '[]',
			source_url TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			posted_date TEXT NULL,
			first_seen_at TEXT NOT NULL,
			last_seen_at TEXT NOT NULL,
			is_target_company INTEGER NOT NULL DEFAULT 0,
			score REAL NOT NULL DEFAULT 0,
			offer_type TEXT NOT NULL DEFAULT 'direct_employer',
			filtered_out INTEGER NOT NULL DEFAULT 0,
			filter_reasons TEXT NOT NULL DEFAULT '[]',
			flags TEXT NOT NULL DEFAULT '[]',
			CHECK (last_seen_at >= first_seen_at)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_offers_listing ON offers(filtered_out, score DESC, last_seen_at DESC);`,
		`CREATE TABLE IF NOT EXISTS tracking (
			offer_id TEXT PRIMARY KEY REFERENCES offers(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'New',
			cv_sent INTEGER NOT NULL DEFAULT 0,
			date_sent TEXT NULL,
			follow_up_done INTEGER NOT NULL DEFAULT 0,
			follow_up_date TEXT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Offers ---

func (s *SQLiteStore) ListCanonicalOffers(ctx context.Context) ([]*models.Offer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+offerColumns+` FROM offers o ORDER BY o.first_seen_at, o.id`)
	if err != nil {
		return nil, fmt.Errorf("list canonical offers: %w", err)
	}
	defer rows.Close()

	var offers []*models.Offer
	for rows.Next() {
		var r sqliteOfferRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		o, err := r.offer()
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

func (s *SQLiteStore) SaveOffer(ctx context.Context, o *models.Offer) error {
	sources, reasons, flags, err := encodeLists(sourceStrings(o.Sources), o.FilterReasons, o.Flags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO offers (id, fingerprint, title, company, location, department, description,
			contract_type, education_level, source, sources, source_url, external_id, posted_date,
			first_seen_at, last_seen_at, is_target_company, score, offer_type, filtered_out,
			filter_reasons, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			title = excluded.title,
			company = excluded.company,
			location = excluded.location,
			department = excluded.department,
			description = excluded.description,
			contract_type = excluded.contract_type,
			education_level = excluded.education_level,
			source = excluded.source,
			sources = excluded.sources,
			source_url = excluded.source_url,
			external_id = excluded.external_id,
			posted_date = excluded.posted_date,
			first_seen_at = MIN(offers.first_seen_at, excluded.first_seen_at),
			last_seen_at = MAX(offers.last_seen_at, excluded.last_seen_at),
			offer_type = excluded.offer_type
	`, o.ID.String(), o.Fingerprint, o.Title, o.Company, o.Location, o.Department, o.Description,
		string(o.ContractType), int(o.EducationLevel), string(o.Source), sources, o.SourceURL,
		o.ExternalID, dateText(o.PostedDate), timeText(o.FirstSeenAt), timeText(o.LastSeenAt),
		o.IsTargetCompany, o.Score, string(o.OfferType), o.FilteredOut, reasons, flags)
	if err != nil {
		if isSQLiteConstraint(err, "UNIQUE") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("save offer: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateOfferEvaluation(ctx context.Context, id uuid.UUID, e models.Evaluation) error {
	_, reasons, flags, err := encodeLists(nil, e.FilterReasons, e.Flags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE offers SET score = ?, is_target_company = ?, filtered_out = ?, filter_reasons = ?, flags = ?
		WHERE id = ?
	`, e.Score, e.IsTargetCompany, e.FilteredOut, reasons, flags, id.String())
	if err != nil {
		return fmt.Errorf("update offer evaluation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetOffer(ctx context.Context, id uuid.UUID) (*models.TrackedOffer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+`, `+trackingColumns+`
		 FROM offers o LEFT JOIN tracking t ON t.offer_id = o.id
		 WHERE o.id = ?`, id.String())
	to, err := scanSQLiteTrackedOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offer: %w", err)
	}
	return to, nil
}

func (s *SQLiteStore) ListOffers(ctx context.Context, filter OfferFilter) ([]*models.TrackedOffer, int, error) {
	conditions := []string{"1 = 1"}
	args := []any{}

	if !filter.IncludeFiltered {
		conditions = append(conditions, "o.filtered_out = 0")
	}
	if filter.Status != "" {
		conditions = append(conditions, "COALESCE(t.status, 'New') = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(o.sources) WHERE json_each.value = ?)")
		args = append(args, string(filter.Source))
	}
	if filter.Company != "" {
		conditions = append(conditions, "LOWER(o.company) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Company)+"%")
	}
	if filter.TargetOnly {
		conditions = append(conditions, "o.is_target_company = 1")
	}
	if filter.MinScore != nil {
		conditions = append(conditions, "o.score >= ?")
		args = append(args, *filter.MinScore)
	}

	where := strings.Join(conditions, " AND ")
	from := "offers o LEFT JOIN tracking t ON t.offer_id = o.id"

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+from+" WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count offers: %w", err)
	}

	limit, offset := filter.Pagination()
	dataQuery := fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE %s
		 ORDER BY o.score DESC, o.last_seen_at DESC, o.id LIMIT ? OFFSET ?`,
		offerColumns, trackingColumns, from, where)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	offers := []*models.TrackedOffer{}
	for rows.Next() {
		to, err := scanSQLiteTrackedOffer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, to)
	}
	return offers, total, rows.Err()
}

// --- Tracking ---

func (s *SQLiteStore) CreateTrackingIfAbsent(ctx context.Context, t *models.Tracking) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking (offer_id, status, cv_sent, date_sent, follow_up_done, follow_up_date, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(offer_id) DO NOTHING
	`, t.OfferID.String(), string(t.Status), t.CVSent, dateText(t.DateSent), t.FollowUpDone,
		dateText(t.FollowUpDate), t.Notes, timeText(t.CreatedAt), timeText(t.UpdatedAt))
	if err != nil {
		if isSQLiteConstraint(err, "FOREIGN KEY") {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("create tracking: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create tracking: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) GetTracking(ctx context.Context, offerID uuid.UUID) (*models.Tracking, error) {
	var r sqliteTrackingRow
	err := s.db.QueryRowContext(ctx,
		`SELECT `+trackingColumns+` FROM tracking t WHERE t.offer_id = ?`, offerID.String()).Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking: %w", err)
	}
	return r.tracking()
}

func (s *SQLiteStore) TrackingStats(ctx context.Context) (*models.TrackingStats, error) {
	stats := models.NewTrackingStats()
	if err := s.db.QueryRowContext(ctx, trackingTotalsQuery).
		Scan(&stats.TotalOffers, &stats.Tracked, &stats.CVSent, &stats.FollowUps); err != nil {
		return nil, fmt.Errorf("count tracking: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, trackingByStatusQuery)
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

func (s *SQLiteStore) UpdateTracking(ctx context.Context, offerID uuid.UUID, fn func(*models.Tracking) error) (*models.Tracking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tracking update: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var r sqliteTrackingRow
	err = tx.QueryRowContext(ctx,
		`SELECT `+trackingColumns+` FROM tracking t WHERE t.offer_id = ?`, offerID.String()).Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read tracking: %w", err)
	}
	t, err := r.tracking()
	if err != nil {
		return nil, err
	}

	if err := fn(t); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tracking SET status = ?, cv_sent = ?, date_sent = ?, follow_up_done = ?,
			follow_up_date = ?, notes = ?, updated_at = ?
		WHERE offer_id = ?
	`, string(t.Status), t.CVSent, dateText(t.DateSent), t.FollowUpDone, dateText(t.FollowUpDate),
		t.Notes, timeText(t.UpdatedAt), offerID.String())
	if err != nil {
		return nil, fmt.Errorf("update tracking: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tracking update: %w", err)
	}
	return t, nil
}

// --- row mapping ---

type sqliteOfferRow struct {
	id, fingerprint, title, company, location, department, description string
	contract, source, sources, sourceURL, externalID, offerType        string
	education                                                          int
	postedDate                                                         sql.NullString
	firstSeen, lastSeen                                                string
	isTarget, filteredOut                                              bool
	score                                                              float64
	reasons, flags                                                     string
}

func (r *sqliteOfferRow) dest() []any {
	return []any{&r.id, &r.fingerprint, &r.title, &r.company, &r.location, &r.department, &r.description,
		&r.contract, &r.education, &r.source, &r.sources, &r.sourceURL, &r.externalID, &r.postedDate,
		&r.firstSeen, &r.lastSeen, &r.isTarget, &r.score, &r.offerType, &r.filteredOut,
		&r.reasons, &r.flags}
}

func (r *sqliteOfferRow) offer() (*models.Offer, error) {
	id, err := uuid.Parse(r.id)
	if err != nil {
		return nil, fmt.Errorf("parse offer id: %w", err)
	}
	o := &models.Offer{
		ID:              id,
		Fingerprint:     r.fingerprint,
		Title:           r.title,
		Company:         r.company,
		Location:        r.location,
		Department:      r.department,
		Description:     r.description,
		ContractType:    models.ContractType(r.contract),
		EducationLevel:  models.EducationLevel(r.education),
		Source:          models.Source(r.source),
		SourceURL:       r.sourceURL,
		ExternalID:      r.externalID,
		IsTargetCompany: r.isTarget,
		Score:           r.score,
		OfferType:       models.OfferType(r.offerType),
		FilteredOut:     r.filteredOut,
	}
	var sources, reasons, flags []string
	for _, l := range []struct {
		raw string
		dst *[]string
	}{{r.sources, &sources}, {r.reasons, &reasons}, {r.flags, &flags}} {
		if err := decodeList(l.raw, l.dst); err != nil {
			return nil, err
		}
	}
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
	if o.PostedDate, err = parseDateText(r.postedDate); err != nil {
		return nil, err
	}
	if o.FirstSeenAt, err = time.Parse(timeLayout, r.firstSeen); err != nil {
		return nil, fmt.Errorf("parse first_seen_at: %w", err)
	}
	if o.LastSeenAt, err = time.Parse(timeLayout, r.lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen_at: %w", err)
	}
	return o, nil
}

type sqliteTrackingRow struct {
	offerID, status, notes, createdAt, updatedAt sql.NullString
	cvSent, followUpDone                         sql.NullBool
	dateSent, followUpDate                       sql.NullString
}

func (r *sqliteTrackingRow) dest() []any {
	return []any{&r.offerID, &r.status, &r.cvSent, &r.dateSent, &r.followUpDone, &r.followUpDate,
		&r.notes, &r.createdAt, &r.updatedAt}
}

// tracking returns nil, nil when the LEFT JOIN found no row.
func (r *sqliteTrackingRow) tracking() (*models.Tracking, error) {
	if !r.offerID.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(r.offerID.String)
	if err != nil {
		return nil, fmt.Errorf("parse tracking offer id: %w", err)
	}
	t := &models.Tracking{
		OfferID:      id,
		Status:       models.TrackingStatus(r.status.String),
		CVSent:       r.cvSent.Bool,
		FollowUpDone: r.followUpDone.Bool,
		Notes:        r.notes.String,
	}
	if t.DateSent, err = parseDateText(r.dateSent); err != nil {
		return nil, err
	}
	if t.FollowUpDate, err = parseDateText(r.followUpDate); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = time.Parse(timeLayout, r.createdAt.String); err != nil {
		return nil, fmt.Errorf("parse tracking created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, r.updatedAt.String); err != nil {
		return nil, fmt.Errorf("parse tracking updated_at: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTrackedOffer(row rowScanner) (*models.TrackedOffer, error) {
	var (
		or sqliteOfferRow
		tr sqliteTrackingRow
	)
	if err := row.Scan(append(or.dest(), tr.dest()...)...); err != nil {
		return nil, err
	}
	o, err := or.offer()
	if err != nil {
		return nil, err
	}
	t, err := tr.tracking()
	if err != nil {
		return nil, err
	}
	return &models.TrackedOffer{Offer: *o, Tracking: t}, nil
}

func encodeLists(sources, reasons, flags []string) (string, string, string, error) {
	out := make([]string, 3)
	for i, list := range [][]string{sources, reasons, flags} {
		b, err := json.Marshal(nonNil(list))
		if err != nil {
			return "", "", "", fmt.Errorf("encode list: %w", err)
		}
		out[i] = string(b)
	}
	return out[0], out[1], out[2], nil
}

func decodeList(raw string, dst *[]string) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode list: %w", err)
	}
	return nil
}

func timeText(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func dateText(d *time.Time) any {
	if d == nil {
		return nil
	}
	return d.UTC().Format(dateLayout)
}

func parseDateText(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s.String, err)
	}
	return &d, nil
}

// isSQLiteConstraint matches the driver's constraint failure messages,
// e.g. "constraint failed: UNIQUE constraint failed: offers.fingerprint".
func isSQLiteConstraint(err error, kind string) bool {
	return strings.Contains(err.Error(), kind+" constraint failed")
}
