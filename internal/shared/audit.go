package shared

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// AuditAction enumerates privileged mutations recorded in audit_logs.
type AuditAction string

const (
	ActionUserSuspended  AuditAction = "user_suspended"
	ActionUserBanned     AuditAction = "user_banned"
	ActionUserVerified   AuditAction = "user_verified"
	ActionReportResolved AuditAction = "report_resolved"
	ActionRoleAssigned   AuditAction = "role_assigned"
)

// MaxIPLength bounds stored client addresses to the longest IPv6 text form.
const MaxIPLength = 45

// Valid reports whether a is part of the audit_logs enum.
func (a AuditAction) Valid() bool {
	switch a {
	case ActionUserSuspended, ActionUserBanned, ActionUserVerified, ActionReportResolved, ActionRoleAssigned:
		return true
	}
	return false
}

// AuditLog represents a record stored in audit_logs. ActorID is empty for
// system actions.
type AuditLog struct {
	ID           int64          `json:"id"`
	ActorID      string         `json:"userId,omitempty"`
	TargetUserID string         `json:"targetUserId,omitempty"`
	Action       AuditAction    `json:"action"`
	Resource     string         `json:"resource"`
	ResourceID   string         `json:"resourceId,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ipAddress,omitempty"`
	UserAgent    string         `json:"userAgent,omitempty"`
	At           time.Time      `json:"createdAt"`
}

// AuditFilter narrows List results.
type AuditFilter struct {
	ActorID      string
	TargetUserID string
	Action       AuditAction
	Limit        int
	Offset       int
}

// AuditLogger appends records into audit_logs. Entries are never updated.
type AuditLogger struct {
	conn  *sql.DB
	clock func() time.Time
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(conn *sql.DB) *AuditLogger {
	return &AuditLogger{conn: conn, clock: func() time.Time { return time.Now().UTC() }}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.conn == nil {
		return errors.New("audit logger not initialised")
	}
	if !log.Action.Valid() {
		return fmt.Errorf("audit log: unknown action %q", log.Action)
	}
	if strings.TrimSpace(log.Resource) == "" {
		return errors.New("audit log requires resource")
	}
	var details sql.NullString
	if len(log.Details) > 0 {
		data, err := json.Marshal(log.Details)
		if err != nil {
			return err
		}
		details = sql.NullString{String: string(data), Valid: true}
	}
	at := log.At
	if at.IsZero() {
		at = l.clock()
	}
	_, err := l.conn.ExecContext(ctx, `INSERT INTO audit_logs
		(user_id, target_user_id, action, resource, resource_id, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		nullable(log.ActorID), nullable(log.TargetUserID), string(log.Action), log.Resource, nullable(log.ResourceID),
		details, nullable(TruncateIP(log.IPAddress)), nullable(CleanText(log.UserAgent)), at)
	if err != nil {
		return fmt.Errorf("audit log: insert: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (l *AuditLogger) List(ctx context.Context, filter AuditFilter) ([]AuditLog, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ActorID != "" {
		add("user_id = $%d", filter.ActorID)
	}
	if filter.TargetUserID != "" {
		add("target_user_id = $%d", filter.TargetUserID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	query := `SELECT id, user_id, target_user_id, action, resource, resource_id, details, ip_address, user_agent, created_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, max(filter.Offset, 0))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditLog
	for rows.Next() {
		var (
			entry                                      AuditLog
			actor, target, resourceID, details, ip, ua sql.NullString
			action                                     string
		)
		if err := rows.Scan(&entry.ID, &actor, &target, &action, &entry.Resource, &resourceID, &details, &ip, &ua, &entry.At); err != nil {
			return nil, err
		}
		entry.ActorID = actor.String
		entry.TargetUserID = target.String
		entry.Action = AuditAction(action)
		entry.ResourceID = resourceID.String
		entry.IPAddress = ip.String
		entry.UserAgent = ua.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				entry.Details = map[string]any{"raw": details.String}
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// TruncateIP cleans ip with CleanText and limits it to MaxIPLength characters.
func TruncateIP(ip string) string {
	ip = CleanText(ip)
	if utf8.RuneCountInString(ip) <= MaxIPLength {
		return ip
	}
	runes := 0
	for i := range ip {
		if runes == MaxIPLength {
			return ip[:i]
		}
		runes++
	}
	return ip
}

// CleanText replaces invalid UTF-8 and drops NUL bytes, neither of which a
// Postgres text column accepts.
func CleanText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
