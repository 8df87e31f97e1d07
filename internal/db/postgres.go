package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"etinuxe/config"
	"etinuxe/internal/apperr"
	"etinuxe/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(cfg config.DBConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Migrate creates any missing tables and indexes.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *PostgresDB) Atomic(ctx context.Context, fn func(q Queries) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgQueries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapWriteErr(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Read runs fn in a read-only REPEATABLE READ transaction, so every query in
// fn sees the same snapshot. Queries may be issued from several goroutines;
// they take turns on the transaction's connection.
func (db *PostgresDB) Read(ctx context.Context, fn func(q Queries) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgQueries{q: &serialQuerier{q: tx}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type pgQueries struct {
	q querier
}

// serialQuerier shares one transaction between goroutines. A query holds the
// connection until its rows are closed or its row is scanned.
type serialQuerier struct {
	mu sync.Mutex
	q  querier
}

func (s *serialQuerier) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Exec(ctx, sql, args...)
}

func (s *serialQuerier) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	s.mu.Lock()
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return &serialRows{Rows: rows, unlock: s.mu.Unlock}, nil
}

func (s *serialQuerier) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	s.mu.Lock()
	return &serialRow{row: s.q.QueryRow(ctx, sql, args...), unlock: s.mu.Unlock}
}

type serialRows struct {
	pgx.Rows
	once   sync.Once
	unlock func()
}

func (r *serialRows) Close() {
	r.Rows.Close()
	r.once.Do(r.unlock)
}

type serialRow struct {
	row    pgx.Row
	unlock func()
}

func (r *serialRow) Scan(dest ...interface{}) error {
	defer r.unlock()
	return r.row.Scan(dest...)
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &apperr.Error{Kind: apperr.ErrConflict, Code: "conflict", Err: err}
	}
	return err
}

func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func jsonArg(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return string(raw), nil
}

func uuidArg(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func uuidPtr(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

// ---- users ----

const userColumns = `id, email, name, location, password_hash, status, body_profile, health_score,
        health_bucket, health_summary, health_risks, initial_insurance_tier,
        initial_insurance_activated, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var profile []byte
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.Location, &u.PasswordHash, &u.Status, &profile, &u.HealthScore,
		&u.HealthBucket, &u.HealthSummary, &u.HealthRisks, &u.InitialInsuranceTier,
		&u.InitialInsuranceActivated, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(profile) > 0 {
		u.BodyProfile = &models.BodyProfile{}
		if err := json.Unmarshal(profile, u.BodyProfile); err != nil {
			return nil, fmt.Errorf("failed to decode body profile: %w", err)
		}
	}
	return &u, nil
}

func (p *pgQueries) CreateUser(ctx context.Context, u *models.User) error {
	profile, err := jsonArg(u.BodyProfile)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO users (` + userColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `
	_, err = p.q.Exec(ctx, query,
		u.ID, u.Email, u.Name, u.Location, u.PasswordHash, u.Status, profile, u.HealthScore,
		u.HealthBucket, u.HealthSummary, nonNilStrings(u.HealthRisks), u.InitialInsuranceTier,
		u.InitialInsuranceActivated, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr(fmt.Errorf("failed to insert user: %w", err))
	}
	return nil
}

func (p *pgQueries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(p.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("user", err)
	}
	return u, nil
}

func (p *pgQueries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(p.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		return nil, notFound("user", err)
	}
	return u, nil
}

func (p *pgQueries) UpdateUser(ctx context.Context, u *models.User) error {
	profile, err := jsonArg(u.BodyProfile)
	if err != nil {
		return err
	}
	query := `
        UPDATE users
        SET email = $2, name = $3, location = $4, status = $5, body_profile = $6, health_score = $7,
            health_bucket = $8, health_summary = $9, health_risks = $10, initial_insurance_tier = $11,
            initial_insurance_activated = $12, updated_at = $13, password_hash = $14
        WHERE id = $1
    `
	_, err = p.q.Exec(ctx, query,
		u.ID, u.Email, u.Name, u.Location, u.Status, profile, u.HealthScore,
		u.HealthBucket, u.HealthSummary, nonNilStrings(u.HealthRisks), u.InitialInsuranceTier,
		u.InitialInsuranceActivated, u.UpdatedAt, u.PasswordHash,
	)
	if err != nil {
		return mapWriteErr(fmt.Errorf("failed to update user: %w", err))
	}
	return nil
}

func (p *pgQueries) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.q.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (p *pgQueries) LockUser(ctx context.Context, id uuid.UUID) error {
	var locked uuid.UUID
	err := p.q.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		return notFound("user", err)
	}
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ---- otp ----

func (p *pgQueries) CreateOTP(ctx context.Context, otp *models.OTP) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO otp_codes (id, user_id, code, expires_at, consumed) VALUES ($1, $2, $3, $4, $5)`,
		otp.ID, otp.UserID, otp.Code, otp.ExpiresAt, otp.Consumed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert otp: %w", err)
	}
	return nil
}

func (p *pgQueries) FindOTP(ctx context.Context, userID uuid.UUID, code string) (*models.OTP, error) {
	var otp models.OTP
	err := p.q.QueryRow(ctx, `
        SELECT id, user_id, code, expires_at, consumed
        FROM otp_codes
        WHERE user_id = $1 AND code = $2
        ORDER BY expires_at DESC
        LIMIT 1
    `, userID, code).Scan(&otp.ID, &otp.UserID, &otp.Code, &otp.ExpiresAt, &otp.Consumed)
	if err != nil {
		return nil, notFound("otp", err)
	}
	return &otp, nil
}

func (p *pgQueries) ConsumeOTP(ctx context.Context, id uuid.UUID) error {
	_, err := p.q.Exec(ctx, `UPDATE otp_codes SET consumed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to consume otp: %w", err)
	}
	return nil
}

// ---- password resets ----

func (p *pgQueries) CreatePasswordReset(ctx context.Context, r *models.PasswordReset) error {
	if _, err := p.q.Exec(ctx, `DELETE FROM password_resets WHERE user_id = $1`, r.UserID); err != nil {
		return fmt.Errorf("failed to clear password resets: %w", err)
	}
	_, err := p.q.Exec(ctx,
		`INSERT INTO password_resets (id, user_id, token, expires_at, consumed) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.UserID, r.Token, r.ExpiresAt, r.Consumed,
	)
	if err != nil {
		return mapWriteErr(fmt.Errorf("failed to insert password reset: %w", err))
	}
	return nil
}

func (p *pgQueries) FindPasswordReset(ctx context.Context, token string) (*models.PasswordReset, error) {
	var r models.PasswordReset
	err := p.q.QueryRow(ctx,
		`SELECT id, user_id, token, expires_at, consumed FROM password_resets WHERE token = $1`, token,
	).Scan(&r.ID, &r.UserID, &r.Token, &r.ExpiresAt, &r.Consumed)
	if err != nil {
		return nil, notFound("password reset", err)
	}
	return &r, nil
}

func (p *pgQueries) ConsumePasswordReset(ctx context.Context, id uuid.UUID) error {
	_, err := p.q.Exec(ctx, `UPDATE password_resets SET consumed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to consume password reset: %w", err)
	}
	return nil
}

// ---- requests ----

const requestColumns = `id, user_id, scale, safety_answers, cost_usd, status, staff_health_rating,
        staff_health_rating_at, created_at, updated_at, approved_at, completed_at`

func scanRequest(row pgx.Row) (*models.MiniaturizationRequest, error) {
	var r models.MiniaturizationRequest
	var answers []byte
	err := row.Scan(
		&r.ID, &r.UserID, &r.Scale, &answers, &r.CostUSD, &r.Status, &r.StaffHealthRating,
		&r.StaffHealthRatingAt, &r.CreatedAt, &r.UpdatedAt, &r.ApprovedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &r.SafetyAnswers); err != nil {
			return nil, fmt.Errorf("failed to decode safety answers: %w", err)
		}
	}
	return &r, nil
}

func (p *pgQueries) CreateRequest(ctx context.Context, r *models.MiniaturizationRequest) error {
	answers, err := jsonArg(r.SafetyAnswers)
	if err != nil {
		return err
	}
	if answers == nil {
		answers = "{}"
	}
	_, err = p.q.Exec(ctx, `
        INSERT INTO miniaturization_requests (`+requestColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, r.ID, r.UserID, r.Scale, answers, r.CostUSD, r.Status, r.StaffHealthRating,
		r.StaffHealthRatingAt, r.CreatedAt, r.UpdatedAt, r.ApprovedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (p *pgQueries) GetRequest(ctx context.Context, id uuid.UUID) (*models.MiniaturizationRequest, error) {
	r, err := scanRequest(p.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM miniaturization_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("miniaturization request", err)
	}
	return r, nil
}

func (p *pgQueries) LockRequest(ctx context.Context, id uuid.UUID) (*models.MiniaturizationRequest, error) {
	r, err := scanRequest(p.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM miniaturization_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound("miniaturization request", err)
	}
	return r, nil
}

func (p *pgQueries) UpdateRequest(ctx context.Context, r *models.MiniaturizationRequest) error {
	_, err := p.q.Exec(ctx, `
        UPDATE miniaturization_requests
        SET status = $2, staff_health_rating = $3, staff_health_rating_at = $4, updated_at = $5,
            approved_at = $6, completed_at = $7
        WHERE id = $1
    `, r.ID, r.Status, r.StaffHealthRating, r.StaffHealthRatingAt, r.UpdatedAt, r.ApprovedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	return nil
}

func (p *pgQueries) ListRequests(ctx context.Context, userID *uuid.UUID) ([]models.MiniaturizationRequest, error) {
	rows, err := p.q.Query(ctx, `
        SELECT `+requestColumns+` FROM miniaturization_requests
        WHERE $1::uuid IS NULL OR user_id = $1::uuid
        ORDER BY created_at
    `, uuidArg(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []models.MiniaturizationRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ---- dna + miniaturization tokens ----

func (p *pgQueries) CreateDNAToken(ctx context.Context, t *models.DNAToken) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO dna_tokens (id, user_id, payload_checksum, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.UserID, t.PayloadChecksum, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dna token: %w", err)
	}
	return nil
}

func (p *pgQueries) GetDNAToken(ctx context.Context, id uuid.UUID) (*models.DNAToken, error) {
	var t models.DNAToken
	err := p.q.QueryRow(ctx,
		`SELECT id, user_id, payload_checksum, created_at FROM dna_tokens WHERE id = $1`, id,
	).Scan(&t.ID, &t.UserID, &t.PayloadChecksum, &t.CreatedAt)
	if err != nil {
		return nil, notFound("dna token", err)
	}
	return &t, nil
}

func (p *pgQueries) ListDNATokens(ctx context.Context, userID uuid.UUID) ([]models.DNAToken, error) {
	rows, err := p.q.Query(ctx,
		`SELECT id, user_id, payload_checksum, created_at FROM dna_tokens WHERE user_id = $1 ORDER BY created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list dna tokens: %w", err)
	}
	defer rows.Close()

	var out []models.DNAToken
	for rows.Next() {
		var t models.DNAToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.PayloadChecksum, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const miniTokenColumns = `id, user_id, request_id, dna_token_id, status, created_at, updated_at, approved_at, completed_at`

func scanMiniToken(row pgx.Row) (*models.MiniaturizationToken, error) {
	var t models.MiniaturizationToken
	err := row.Scan(&t.ID, &t.UserID, &t.RequestID, &t.DNATokenID, &t.Status,
		&t.CreatedAt, &t.UpdatedAt, &t.ApprovedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *pgQueries) CreateMiniToken(ctx context.Context, t *models.MiniaturizationToken) error {
	_, err := p.q.Exec(ctx, `
        INSERT INTO miniaturization_tokens (`+miniTokenColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, t.ID, t.UserID, t.RequestID, t.DNATokenID, t.Status, t.CreatedAt, t.UpdatedAt, t.ApprovedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert miniaturization token: %w", err)
	}
	return nil
}

func (p *pgQueries) GetMiniToken(ctx context.Context, id uuid.UUID) (*models.MiniaturizationToken, error) {
	t, err := scanMiniToken(p.q.QueryRow(ctx, `SELECT `+miniTokenColumns+` FROM miniaturization_tokens WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("miniaturization token", err)
	}
	return t, nil
}

func (p *pgQueries) UpdateMiniToken(ctx context.Context, t *models.MiniaturizationToken) error {
	_, err := p.q.Exec(ctx, `
        UPDATE miniaturization_tokens
        SET status = $2, updated_at = $3, approved_at = $4, completed_at = $5
        WHERE id = $1
    `, t.ID, t.Status, t.UpdatedAt, t.ApprovedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update miniaturization token: %w", err)
	}
	return nil
}

func (p *pgQueries) ListMiniTokens(ctx context.Context, userID *uuid.UUID) ([]models.MiniaturizationToken, error) {
	rows, err := p.q.Query(ctx, `
        SELECT `+miniTokenColumns+` FROM miniaturization_tokens
        WHERE $1::uuid IS NULL OR user_id = $1::uuid
        ORDER BY created_at
    `, uuidArg(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list miniaturization tokens: %w", err)
	}
	defer rows.Close()

	var out []models.MiniaturizationToken
	for rows.Next() {
		t, err := scanMiniToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ---- payments ----

const paymentColumns = `id, user_id, request_id, policy_id, kind, amount_usd, currency, status,
        external_ref, checkout_url, created_at, paid_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var pm models.Payment
	var policyID uuid.NullUUID
	err := row.Scan(&pm.ID, &pm.UserID, &pm.RequestID, &policyID, &pm.Kind, &pm.AmountUSD, &pm.Currency,
		&pm.Status, &pm.ExternalRef, &pm.CheckoutURL, &pm.CreatedAt, &pm.PaidAt)
	if err != nil {
		return nil, err
	}
	pm.PolicyID = uuidPtr(policyID)
	return &pm, nil
}

func (p *pgQueries) CreatePayment(ctx context.Context, pm *models.Payment) error {
	_, err := p.q.Exec(ctx, `
        INSERT INTO payments (`+paymentColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `, pm.ID, pm.UserID, pm.RequestID, uuidArg(pm.PolicyID), pm.Kind, pm.AmountUSD, pm.Currency,
		pm.Status, pm.ExternalRef, pm.CheckoutURL, pm.CreatedAt, pm.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (p *pgQueries) UpdatePayment(ctx context.Context, pm *models.Payment) error {
	_, err := p.q.Exec(ctx, `
        UPDATE payments
        SET status = $2, external_ref = $3, checkout_url = $4, paid_at = $5
        WHERE id = $1
    `, pm.ID, pm.Status, pm.ExternalRef, pm.CheckoutURL, pm.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}

func (p *pgQueries) GetPaymentByRef(ctx context.Context, ref string) (*models.Payment, error) {
	pm, err := scanPayment(p.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_ref = $1`, ref))
	if err != nil {
		return nil, notFound("payment", err)
	}
	return pm, nil
}

func (p *pgQueries) ListPayments(ctx context.Context, userID *uuid.UUID) ([]models.Payment, error) {
	rows, err := p.q.Query(ctx, `
        SELECT `+paymentColumns+` FROM payments
        WHERE $1::uuid IS NULL OR user_id = $1::uuid
        ORDER BY created_at
    `, uuidArg(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		pm, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pm)
	}
	return out, rows.Err()
}

// ---- insurance policies ----

const policyColumns = `id, user_id, request_id, tier, scale, steps, base_rate_per_step, health_bucket,
        bucket_multiplier, points_redeemed, points_value_usd, monthly_premium, final_premium, status,
        created_at, effective_at, next_billing_at, last_billed_at`

func scanPolicy(row pgx.Row) (*models.InsurancePolicy, error) {
	var pol models.InsurancePolicy
	err := row.Scan(&pol.ID, &pol.UserID, &pol.RequestID, &pol.Tier, &pol.Scale, &pol.Steps, &pol.BaseRatePerStep,
		&pol.HealthBucket, &pol.BucketMultiplier, &pol.PointsRedeemed, &pol.PointsValueUSD, &pol.MonthlyPremium,
		&pol.FinalPremium, &pol.Status, &pol.CreatedAt, &pol.EffectiveAt, &pol.NextBillingAt, &pol.LastBilledAt)
	if err != nil {
		return nil, err
	}
	return &pol, nil
}

func (p *pgQueries) CreatePolicy(ctx context.Context, pol *models.InsurancePolicy) error {
	_, err := p.q.Exec(ctx, `
        INSERT INTO insurance_policies (`+policyColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
    `, pol.ID, pol.UserID, pol.RequestID, pol.Tier, pol.Scale, pol.Steps, pol.BaseRatePerStep,
		pol.HealthBucket, pol.BucketMultiplier, pol.PointsRedeemed, pol.PointsValueUSD, pol.MonthlyPremium,
		pol.FinalPremium, pol.Status, pol.CreatedAt, pol.EffectiveAt, pol.NextBillingAt, pol.LastBilledAt)
	if err != nil {
		return mapWriteErr(fmt.Errorf("failed to insert insurance policy: %w", err))
	}
	return nil
}

func (p *pgQueries) UpdatePolicy(ctx context.Context, pol *models.InsurancePolicy) error {
	_, err := p.q.Exec(ctx, `
        UPDATE insurance_policies
        SET status = $2, effective_at = $3, next_billing_at = $4, last_billed_at = $5
        WHERE id = $1
    `, pol.ID, pol.Status, pol.EffectiveAt, pol.NextBillingAt, pol.LastBilledAt)
	if err != nil {
		return mapWriteErr(fmt.Errorf("failed to update insurance policy: %w", err))
	}
	return nil
}

func (p *pgQueries) listPolicies(ctx context.Context, query string, arg interface{}) ([]models.InsurancePolicy, error) {
	rows, err := p.q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list insurance policies: %w", err)
	}
	defer rows.Close()

	var out []models.InsurancePolicy
	for rows.Next() {
		pol, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pol)
	}
	return out, rows.Err()
}

func (p *pgQueries) ListRequestPolicies(ctx context.Context, requestID uuid.UUID) ([]models.InsurancePolicy, error) {
	return p.listPolicies(ctx,
		`SELECT `+policyColumns+` FROM insurance_policies WHERE request_id = $1 ORDER BY created_at`, requestID)
}

func (p *pgQueries) ListPolicies(ctx context.Context, userID *uuid.UUID) ([]models.InsurancePolicy, error) {
	return p.listPolicies(ctx, `
        SELECT `+policyColumns+` FROM insurance_policies
        WHERE $1::uuid IS NULL OR user_id = $1::uuid
        ORDER BY created_at
    `, uuidArg(userID))
}

// ---- points + memories ----

func (p *pgQueries) AddPoints(ctx context.Context, e *models.PointsEntry) error {
	_, err := p.q.Exec(ctx,
		`INSERT INTO points_ledger (id, user_id, delta, reason, policy_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.UserID, e.Delta, e.Reason, uuidArg(e.PolicyID), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert points entry: %w", err)
	}
	return nil
}

func (p *pgQueries) PointsSummary(ctx context.Context, userID uuid.UUID) (models.PointsSummary, error) {
	var s models.PointsSummary
	err := p.q.QueryRow(ctx, `
        SELECT COALESCE(SUM(delta) FILTER (WHERE reason <> ALL($2)), 0),
               COALESCE(-SUM(delta) FILTER (WHERE reason = ANY($2)), 0)
        FROM points_ledger
        WHERE user_id = $1
    `, userID, []string{models.PointsReasonRedemption, models.PointsReasonRefund}).Scan(&s.TotalPoints, &s.SpentPoints)
	if err != nil {
		return s, fmt.Errorf("failed to sum points: %w", err)
	}
	s.AvailablePoints = s.TotalPoints - s.SpentPoints
	return s, nil
}

func (p *pgQueries) CreateMemoryLog(ctx context.Context, m *models.MemoryLog) error {
	_, err := p.q.Exec(ctx, `
        INSERT INTO memory_logs (id, user_id, memory_text, valence, strength, toxicity, points_awarded, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, m.ID, m.UserID, m.Text, m.Valence, m.Strength, m.Toxicity, m.PointsAwarded, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert memory log: %w", err)
	}
	return nil
}

func (p *pgQueries) ListMemoryLogs(ctx context.Context, userID uuid.UUID, limit int) ([]models.MemoryLog, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := p.q.Query(ctx, `
        SELECT id, user_id, memory_text, valence, strength, toxicity, points_awarded, created_at
        FROM memory_logs
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, userID, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory logs: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryLog
	for rows.Next() {
		var m models.MemoryLog
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.Valence, &m.Strength, &m.Toxicity, &m.PointsAwarded, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- support ----

const sessionColumns = `id, user_id, subject, distress, status, assigned_admin_name, created_at, updated_at, closed_at`

func scanSession(row pgx.Row) (*models.SupportSession, error) {
	var s models.SupportSession
	err := row.Scan(&s.ID, &s.UserID, &s.Subject, &s.Distress, &s.Status, &s.AssignedTo,
		&s.CreatedAt, &s.UpdatedAt, &s.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *pgQueries) CreateSupportSession(ctx context.Context, s *models.SupportSession) error {
	_, err := p.q.Exec(ctx, `
        INSERT INTO support_sessions (`+sessionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, s.ID, s.UserID, s.Subject, s.Distress, s.Status, s.AssignedTo, s.CreatedAt, s.UpdatedAt, s.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to insert support session: %w", err)
	}
	return nil
}

func (p *pgQueries) getSession(ctx context.Context, query string, id uuid.UUID) (*models.SupportSession, error) {
	s, err := scanSession(p.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound("support session", err)
	}
	byID, err := p.sessionMessages(ctx, []uuid.UUID{s.ID})
	if err != nil {
		return nil, err
	}
	s.Messages = byID[s.ID]
	if s.Messages == nil {
		s.Messages = []models.SupportMessage{}
	}
	return s, nil
}

func (p *pgQueries) GetSupportSession(ctx context.Context, id uuid.UUID) (*models.SupportSession, error) {
	return p.getSession(ctx, `SELECT `+sessionColumns+` FROM support_sessions WHERE id = $1`, id)
}

func (p *pgQueries) LockSupportSession(ctx context.Context, id uuid.UUID) (*models.SupportSession, error) {
	return p.getSession(ctx, `SELECT `+sessionColumns+` FROM support_sessions WHERE id = $1 FOR UPDATE`, id)
}

func (p *pgQueries) UpdateSupportSession(ctx context.Context, s *models.SupportSession) error {
	_, err := p.q.Exec(ctx, `
        UPDATE support_sessions
        SET status = $2, assigned_admin_name = $3, updated_at = $4, closed_at = $5
        WHERE id = $1
    `, s.ID, s.Status, s.AssignedTo, s.UpdatedAt, s.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to update support session: %w", err)
	}
	return nil
}

func (p *pgQueries) AddSupportMessage(ctx context.Context, m *models.SupportMessage) error {
	_, err := p.q.Exec(ctx, `
        INSERT INTO support_messages (id, session_id, sender_role, sender_id, sender_name, body, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, m.ID, m.SessionID, m.SenderRole, uuidArg(m.SenderID), m.SenderName, m.Body, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert support message: %w", err)
	}
	return nil
}

func (p *pgQueries) ListSupportSessions(ctx context.Context, userID *uuid.UUID) ([]models.SupportSession, error) {
	rows, err := p.q.Query(ctx, `
        SELECT `+sessionColumns+` FROM support_sessions
        WHERE $1::uuid IS NULL OR user_id = $1::uuid
        ORDER BY updated_at DESC
    `, uuidArg(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list support sessions: %w", err)
	}
	var (
		out []models.SupportSession
		ids []uuid.UUID
	)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *s)
		ids = append(ids, s.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byID, err := p.sessionMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Messages = byID[out[i].ID]
		if out[i].Messages == nil {
			out[i].Messages = []models.SupportMessage{}
		}
	}
	return out, nil
}

func (p *pgQueries) sessionMessages(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]models.SupportMessage, error) {
	out := make(map[uuid.UUID][]models.SupportMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := p.q.Query(ctx, `
        SELECT id, session_id, sender_role, sender_id, sender_name, body, created_at
        FROM support_messages
        WHERE session_id = ANY($1::uuid[])
        ORDER BY created_at
    `, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to list support messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m        models.SupportMessage
			senderID uuid.NullUUID
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderRole, &senderID, &m.SenderName, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SenderID = uuidPtr(senderID)
		out[m.SessionID] = append(out[m.SessionID], m)
	}
	return out, rows.Err()
}

// ---- settings ----

func (p *pgQueries) GetSettings(ctx context.Context) (models.PricingSettings, bool, error) {
	var s models.PricingSettings
	var doc []byte
	var updatedAt time.Time
	err := p.q.QueryRow(ctx, `SELECT document, updated_at FROM pricing_settings WHERE id = 1`).Scan(&doc, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("failed to get settings: %w", err)
	}
	if err := json.Unmarshal(doc, &s); err != nil {
		return s, false, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.UpdatedAt = updatedAt
	return s, true, nil
}

func (p *pgQueries) SaveSettings(ctx context.Context, s models.PricingSettings) error {
	doc, err := jsonArg(s)
	if err != nil {
		return err
	}
	_, err = p.q.Exec(ctx, `
        INSERT INTO pricing_settings (id, document, updated_at) VALUES (1, $1, $2)
        ON CONFLICT (id) DO UPDATE SET document = $1, updated_at = $2
    `, doc, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
