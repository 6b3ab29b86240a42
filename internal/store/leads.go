package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	perrors "github.com/p-blackswan/videofunnel/internal/errors"
	"github.com/p-blackswan/videofunnel/internal/models"
)

// ErrDuplicateLead is returned when the unique email index rejects an insert.
var ErrDuplicateLead = fmt.Errorf("lead email already exists: %w", perrors.ErrConflict)

// LeadFilter narrows ListLeads and CountLeads.
type LeadFilter struct {
	Source models.LeadSource
	Limit  int
	Offset int
}

const leadColumns = `
	id, email, first_name, source, capture_date, ip_address, user_agent,
	referrer, converted, conversion_date, tags, metadata, created_at, updated_at`

// CreateLead inserts a new lead. The email must already be normalized.
func (s *Store) CreateLead(ctx context.Context, l *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if l.CaptureDate.IsZero() {
		l.CaptureDate = now
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = l.CreatedAt
	if l.Tags == nil {
		l.Tags = []string{}
	}

	tags, err := json.Marshal(l.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	var metadata sql.NullString
	if len(l.Metadata) > 0 {
		raw, err := json.Marshal(l.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := `INSERT INTO leads (` + leadColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		l.ID, l.Email, l.FirstName, string(l.Source), l.CaptureDate.UnixMilli(),
		nullString(l.IPAddress), nullString(l.UserAgent), nullString(l.Referrer),
		l.Converted, nullTime(l.ConversionDate), string(tags), metadata,
		l.CreatedAt.UnixMilli(), l.UpdatedAt.UnixMilli(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicateLead
	}
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

// GetLead returns the lead with id, or nil if none exists.
func (s *Store) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return l, nil
}

// GetLeadByEmail returns the lead for a normalized email, or nil if none.
func (s *Store) GetLeadByEmail(ctx context.Context, email string) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE email = ?`, email)
	l, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead by email: %w", err)
	}
	return l, nil
}

// ListLeads returns leads newest first.
func (s *Store) ListLeads(ctx context.Context, f LeadFilter) ([]*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + leadColumns + ` FROM leads`
	args := []interface{}{}
	if f.Source != "" {
		query += ` WHERE source = ?`
		args = append(args, string(f.Source))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	defer rows.Close()

	leads := []*models.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

// CountLeads counts leads matching the filter's source.
func (s *Store) CountLeads(ctx context.Context, f LeadFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT COUNT(*) FROM leads`
	args := []interface{}{}
	if f.Source != "" {
		query += ` WHERE source = ?`
		args = append(args, string(f.Source))
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count leads: %w", err)
	}
	return n, nil
}

// MarkLeadConverted flags a lead as converted. Converting twice keeps the
// first conversion date. Returns perrors.ErrNotFound for an unknown id.
func (s *Store) MarkLeadConverted(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE leads
		SET converted = 1,
		    conversion_date = COALESCE(conversion_date, ?),
		    updated_at = ?
		WHERE id = ?`,
		at.UnixMilli(), at.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark lead converted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark lead converted: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lead %s: %w", id, perrors.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(r rowScanner) (*models.Lead, error) {
	var (
		l                          models.Lead
		source, tags               string
		ip, ua, referrer, metadata sql.NullString
		captured, created, updated int64
		conversion                 sql.NullInt64
	)
	err := r.Scan(
		&l.ID, &l.Email, &l.FirstName, &source, &captured, &ip, &ua,
		&referrer, &l.Converted, &conversion, &tags, &metadata, &created, &updated,
	)
	if err != nil {
		return nil, err
	}

	l.Source = models.LeadSource(source)
	l.CaptureDate = time.UnixMilli(captured).UTC()
	l.CreatedAt = time.UnixMilli(created).UTC()
	l.UpdatedAt = time.UnixMilli(updated).UTC()
	l.IPAddress = ip.String
	l.UserAgent = ua.String
	l.Referrer = referrer.String
	if conversion.Valid {
		t := time.UnixMilli(conversion.Int64).UTC()
		l.ConversionDate = &t
	}
	if err := json.Unmarshal([]byte(tags), &l.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &l.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
