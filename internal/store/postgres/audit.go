package postgres

import (
	"context"
	"strings"
	"time"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/store"
	"varejo/backend/internal/xid"
)

func (s *Store) ListFinancialEntries(ctx context.Context, tenantID string, orderID string) ([]domain.FinancialEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, order_id, kind, amount, payment_method, created_by, created_at
		FROM financial_entries
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY created_at, id
	`, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.FinancialEntry, 0, 4)
	for rows.Next() {
		var e domain.FinancialEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.OrderID, &e.Kind, &e.Amount, &e.PaymentMethod, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	limit = store.NormalizeLimit(limit, 100, 500)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.ActorUsername, &l.ActorRole, &l.Action, &l.EntityType,
			&l.EntityID, &l.Detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return domain.Validationf("username is required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, tenant_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, username, user.Password, user.Role, user.TenantID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Validationf("username already exists")
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, tenant_id, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.TenantID, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $1 WHERE username = $2
	`, password, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}
