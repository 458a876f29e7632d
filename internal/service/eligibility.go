package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agrariahq/agraria-api/internal/models"
)

// identifierSource is the slice of the role store the resolver needs.
type identifierSource interface {
	RoleNamesForUser(ctx context.Context, userID string) ([]string, error)
	PermissionNamesForUser(ctx context.Context, userID string) ([]string, error)
	ActiveUserIDs(ctx context.Context, ids []string) ([]string, error)
	UserIDsWithAnyRole(ctx context.Context, roleNames []string) ([]string, error)
	UserIDsWithAnyPermission(ctx context.Context, permissions []string) ([]string, error)
}

// IdentifierSet is everything a user can be addressed by in a step's
// approver_identifiers: their own id, role names and permission names.
type IdentifierSet struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// MatchesStep intersects the set against the step's identifiers in the space
// selected by approver_type. Empty identifier lists never match.
func (s IdentifierSet) MatchesStep(step *models.ApprovalStep) bool {
	if step == nil || len(step.ApproverIdentifiers) == 0 {
		return false
	}
	switch step.ApproverType {
	case models.ApproverUser:
		return containsString(step.ApproverIdentifiers, s.UserID)
	case models.ApproverRole:
		return intersects(step.ApproverIdentifiers, s.Roles)
	case models.ApproverPermission:
		return intersects(step.ApproverIdentifiers, s.Permissions)
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// EligibilityResolver decides whether a user may act on a step. Resolution
// is a pure set-intersection over the user's identifier set; the set itself
// is cached in Redis for a short TTL since role and permission assignments
// change rarely relative to approval traffic.
type EligibilityResolver struct {
	source identifierSource
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewEligibilityResolver constructs a resolver. cache may be nil, in which
// case every resolution hits the role store.
func NewEligibilityResolver(source identifierSource, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *EligibilityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &EligibilityResolver{source: source, cache: cache, ttl: ttl, logger: logger}
}

func (r *EligibilityResolver) cacheKey(userID string) string {
	return fmt.Sprintf("agraria:identifiers:%s", userID)
}

// ResolveIdentifiers computes the identifier set for a user, consulting the
// cache first. Cache failures fall through to the role store.
func (r *EligibilityResolver) ResolveIdentifiers(ctx context.Context, userID string) (IdentifierSet, error) {
	if r.cache != nil {
		raw, err := r.cache.Get(ctx, r.cacheKey(userID)).Bytes()
		if err == nil {
			var cached IdentifierSet
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return cached, nil
			}
		} else if err != redis.Nil {
			r.logger.Debug("identifier cache read failed", zap.Error(err))
		}
	}

	roles, err := r.source.RoleNamesForUser(ctx, userID)
	if err != nil {
		return IdentifierSet{}, fmt.Errorf("resolve roles: %w", err)
	}
	permissions, err := r.source.PermissionNamesForUser(ctx, userID)
	if err != nil {
		return IdentifierSet{}, fmt.Errorf("resolve permissions: %w", err)
	}

	set := IdentifierSet{UserID: userID, Roles: roles, Permissions: permissions}

	if r.cache != nil {
		if raw, err := json.Marshal(set); err == nil {
			if err := r.cache.Set(ctx, r.cacheKey(userID), raw, r.ttl).Err(); err != nil {
				r.logger.Debug("identifier cache write failed", zap.Error(err))
			}
		}
	}

	return set, nil
}

// Invalidate drops a user's cached identifier set, called after role
// assignment changes.
func (r *EligibilityResolver) Invalidate(ctx context.Context, userID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, r.cacheKey(userID)).Err(); err != nil {
		r.logger.Debug("identifier cache invalidate failed", zap.Error(err))
	}
}

// CanAct reports whether the user may act on the step. Pure predicate over
// the resolved identifier set; empty identifier lists yield false.
func (r *EligibilityResolver) CanAct(ctx context.Context, userID string, step *models.ApprovalStep) (bool, error) {
	set, err := r.ResolveIdentifiers(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.MatchesStep(step), nil
}

// EligibleUserIDs returns the active users currently qualifying under the
// step's approver configuration, used for notification fan-out and the
// zero-eligible-actor skip rule.
func (r *EligibilityResolver) EligibleUserIDs(ctx context.Context, step *models.ApprovalStep) ([]string, error) {
	if step == nil || len(step.ApproverIdentifiers) == 0 {
		return nil, nil
	}
	switch step.ApproverType {
	case models.ApproverUser:
		return r.source.ActiveUserIDs(ctx, step.ApproverIdentifiers)
	case models.ApproverRole:
		return r.source.UserIDsWithAnyRole(ctx, step.ApproverIdentifiers)
	case models.ApproverPermission:
		return r.source.UserIDsWithAnyPermission(ctx, step.ApproverIdentifiers)
	}
	return nil, nil
}

// HasEligibleActors reports whether at least one user qualifies for the step.
func (r *EligibilityResolver) HasEligibleActors(ctx context.Context, step *models.ApprovalStep) (bool, error) {
	ids, err := r.EligibleUserIDs(ctx, step)
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}
