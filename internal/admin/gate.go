// Package admin is the authorization gate every privileged operation passes
// through, plus the back-office HTTP surface built on it.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/venturedeck/venturedeck/internal/rbac"
	"github.com/venturedeck/venturedeck/internal/session"
)

// Gate outcomes reported to DecisionRecorder.
const (
	OutcomeAllowed      = "allowed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeRateLimited  = "rate_limited"
	OutcomeForbidden    = "forbidden"
	OutcomeError        = "error"
)

// Authorizer answers permission checks. *rbac.Service implements it.
type Authorizer interface {
	HasPermission(ctx context.Context, userID string, perm rbac.Permission) (bool, error)
}

// DecisionRecorder receives one outcome per gate evaluation.
type DecisionRecorder interface {
	RecordGateDecision(outcome string)
}

// Access is what the gate hands to an admitted operation.
type Access struct {
	User     session.User
	Session  *session.Session
	Metadata RequestMetadata
}

// GateConfig collects Gate dependencies.
type GateConfig struct {
	Sessions session.Provider
	Limiter  RateLimiter
	Authz    Authorizer
	Logger   *slog.Logger
	Metrics  DecisionRecorder
	Clock    func() time.Time
}

// Gate runs authenticate, metadata extraction, rate limiting and authorization
// in that order. The first failing step ends the evaluation.
type Gate struct {
	sessions session.Provider
	limiter  RateLimiter
	authz    Authorizer
	logger   *slog.Logger
	metrics  DecisionRecorder
	clock    func() time.Time
}

// NewGate constructs a Gate.
func NewGate(cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Gate{
		sessions: cfg.Sessions,
		limiter:  cfg.Limiter,
		authz:    cfg.Authz,
		logger:   logger,
		metrics:  cfg.Metrics,
		clock:    clock,
	}
}

// UserKey is the rate-limit key for an authenticated admin.
func UserKey(userID string) string {
	return "admin:" + userID
}

// IPKey is the rate-limit key for a resolved client address.
func IPKey(ip string) string {
	return "admin-ip:" + ip
}

// Require admits the request described by headers. An empty perm checks the
// session only.
func (g *Gate) Require(ctx context.Context, headers http.Header, perm rbac.Permission) (*Access, error) {
	sess, err := g.sessions.Session(ctx, headers)
	if err != nil {
		g.record(OutcomeError)
		return nil, fmt.Errorf("admin: load session: %w", err)
	}
	if sess == nil || strings.TrimSpace(sess.User.ID) == "" {
		g.record(OutcomeUnauthorized)
		g.logger.Warn("admin gate denied", slog.String("stage", OutcomeUnauthorized))
		return nil, ErrUnauthorized
	}
	userID := sess.User.ID
	meta := ExtractMetadata(headers)

	keys := []string{UserKey(userID)}
	if meta.IPAddress != "" {
		keys = append(keys, IPKey(meta.IPAddress))
	}
	for _, key := range keys {
		decision, err := g.limiter.Allow(ctx, key)
		if err != nil {
			g.record(OutcomeError)
			return nil, err
		}
		if !decision.Allowed {
			g.record(OutcomeRateLimited)
			g.logger.Warn("admin gate denied",
				slog.String("stage", OutcomeRateLimited),
				slog.String("user_id", userID),
				slog.String("key", key),
			)
			retry := decision.ResetAt.Sub(g.clock())
			return nil, &RateLimitError{Key: key, RetryIn: max(retry, 0)}
		}
	}

	if perm != "" {
		ok, err := g.authz.HasPermission(ctx, userID, perm)
		if err != nil {
			g.record(OutcomeError)
			return nil, fmt.Errorf("admin: check permission: %w", err)
		}
		if !ok {
			g.record(OutcomeForbidden)
			g.logger.Warn("admin gate denied",
				slog.String("stage", OutcomeForbidden),
				slog.String("user_id", userID),
			)
			return nil, ErrForbidden
		}
	}

	g.record(OutcomeAllowed)
	return &Access{User: sess.User, Session: sess, Metadata: meta}, nil
}

func (g *Gate) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordGateDecision(outcome)
	}
}
