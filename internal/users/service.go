package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/apperr"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/auth"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultCacheTTL      = 10 * time.Minute
	cacheCleanupPeriod   = 20 * time.Minute
	canonicalCacheKey    = "canonical:"
	profileCacheKey      = "profile:"
	defaultProvider      = "default"
	queryProviderSubject = "provider = ? AND subject = ?"

	opServiceNew  = "users.service.new"
	opResolve     = "users.resolve"
	opFindByEmail = "users.find_by_email"
	opProfiles    = "users.profiles"

	reasonMissingDatabase = "missing_database"
	reasonInvalidIdentity = "invalid_identity"
	reasonInvalidEmail    = "invalid_email"
	reasonUserNotFound    = "user_not_found"
	reasonQueryFailed     = "query_failed"
	reasonInsertFailed    = "insert_failed"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")

	errMissingDatabase = errors.New("users: database connection required")
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Service manages canonical user identifiers and the display profiles derived from them.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	cache  *cache.Cache
	logger *zap.Logger
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, reasonMissingDatabase, nil, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		cache:  cache.New(ttl, cacheCleanupPeriod),
		logger: logger,
	}, nil
}

// ResolveCanonicalUserID returns the canonical user id for the provided session claims.
// It creates a new identity mapping when the provider+subject pair has not been seen before
// and refreshes the stored email and display name otherwise.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", apperr.New(opResolve, reasonInvalidIdentity, apperr.ErrUnauthenticated, ErrInvalidIdentity)
	}

	// Changed profile claims miss the cache so the stored profile gets refreshed.
	cacheKey := strings.Join([]string{canonicalCacheKey + provider, subject, normalize(claims.UserEmail), normalize(claims.UserDisplayName)}, "\x1f")
	if cached, ok := s.cache.Get(cacheKey); ok {
		if canonicalIdentifier, ok := cached.(string); ok {
			return canonicalIdentifier, nil
		}
	}

	db := s.db.WithContext(ctx)
	var identity Identity
	err := db.Where(queryProviderSubject, provider, subject).First(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := db.Create(&identity).Error; err != nil {
			s.logError(opResolve, reasonInsertFailed, err, zap.String("subject", subject))
			return "", apperr.New(opResolve, reasonInsertFailed, nil, err)
		}
	case err != nil:
		s.logError(opResolve, reasonQueryFailed, err, zap.String("subject", subject))
		return "", apperr.New(opResolve, reasonQueryFailed, nil, err)
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.UserEmail); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		if err := db.Model(&Identity{}).Where(queryProviderSubject, provider, subject).Updates(updates).Error; err != nil {
			s.logger.Warn("identity refresh failed", zap.String("subject", subject), zap.Error(err))
		}
	}

	s.cache.SetDefault(cacheKey, identity.UserID)
	s.cache.Delete(profileCacheKey + identity.UserID)
	return identity.UserID, nil
}

// FindByEmail resolves the profile registered under email, ignoring case.
func (s *Service) FindByEmail(ctx context.Context, email string) (Profile, error) {
	normalized := strings.ToLower(normalize(email))
	if normalized == "" {
		return Profile{}, apperr.New(opFindByEmail, reasonInvalidEmail, apperr.ErrValidation, nil)
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("LOWER(user_email) = ?", normalized).
		Order("last_seen_at DESC").
		First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, apperr.New(opFindByEmail, reasonUserNotFound, apperr.ErrNotFound, err)
	}
	if err != nil {
		s.logError(opFindByEmail, reasonQueryFailed, err)
		return Profile{}, apperr.New(opFindByEmail, reasonQueryFailed, nil, err)
	}
	return profileFromIdentity(identity), nil
}

// Profiles returns a display profile for every requested user id. Unknown ids
// map to a profile carrying only the id.
func (s *Service) Profiles(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	profiles := make(map[string]Profile, len(userIDs))
	missing := make([]string, 0, len(userIDs))
	for _, rawID := range userIDs {
		userID := normalize(rawID)
		if userID == "" {
			continue
		}
		if _, seen := profiles[userID]; seen {
			continue
		}
		if cached, ok := s.cache.Get(profileCacheKey + userID); ok {
			if profile, ok := cached.(Profile); ok {
				profiles[userID] = profile
				continue
			}
		}
		profiles[userID] = Profile{UserID: userID}
		missing = append(missing, userID)
	}
	if len(missing) == 0 {
		return profiles, nil
	}

	var identities []Identity
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", missing).
		Order("last_seen_at ASC").
		Find(&identities).Error; err != nil {
		s.logError(opProfiles, reasonQueryFailed, err, zap.Int("count", len(missing)))
		return nil, apperr.New(opProfiles, reasonQueryFailed, nil, err)
	}
	// Later rows win so the most recently seen identity supplies the profile.
	for _, identity := range identities {
		profiles[identity.UserID] = profileFromIdentity(identity)
	}
	for _, userID := range missing {
		s.cache.SetDefault(profileCacheKey+userID, profiles[userID])
	}
	return profiles, nil
}

// Profile returns the display profile of a single user.
func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	profiles, err := s.Profiles(ctx, []string{userID})
	if err != nil {
		return Profile{}, err
	}
	return profiles[normalize(userID)], nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	s.logger.Error("users service error", append(attrs, fields...)...)
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}
