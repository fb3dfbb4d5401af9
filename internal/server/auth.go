package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"taskroom/internal/app"
	"taskroom/internal/engine"
	"taskroom/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowLegacyHeaders accepts X-User-Id and X-Org-Id without credentials.
	// Local development only.
	AllowLegacyHeaders bool
	Logger             logrus.FieldLogger
}

type Principal struct {
	Actor  engine.Actor
	Source string
}

type principalKey struct{}

func (c AuthConfig) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// actorFromContext returns the authenticated actor or a 401.
func actorFromContext(ctx context.Context) (engine.Actor, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Actor.UserID != "" && p.Actor.OrgID != "" {
		return p.Actor, nil
	}
	return engine.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	OrgID      string `json:"org_id"`
	SuperAdmin bool   `json:"super_admin,omitempty"`
}

// IssueToken signs an HS256 token for actor that expires after ttl.
func IssueToken(secret string, actor engine.Actor, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if actor.UserID == "" || actor.OrgID == "" {
		return "", errors.New("user and org are required")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  actor.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		OrgID:      actor.OrgID,
		SuperAdmin: actor.SuperAdmin,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// authenticateJWT verifies the token and resolves the subject's current org
// role, so a demoted or removed user loses access before the token expires.
func authenticateJWT(ctx context.Context, r repo.Repo, token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" || claims.OrgID == "" {
		return Principal{}, errors.New("sub and org_id claims required")
	}
	actor, err := app.ActorForMember(ctx, r, claims.OrgID, claims.Subject)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Actor: actor, Source: "jwt"}, nil
}

// authenticateAPIKey resolves the key's owner. The super admin flag comes
// from the owner's current org role, not from the key.
func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	actor, err := app.ActorForMember(ctx, r, apiKey.OrgID, apiKey.UserID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Actor: actor, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			legacyUser := strings.TrimSpace(req.Header.Get("X-User-Id"))
			legacyOrg := strings.TrimSpace(req.Header.Get("X-Org-Id"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(req.Context(), r, token, cfg.JWTSecret)
				if err != nil {
					cfg.logger().WithError(err).Debug("jwt rejected")
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKeyHeader != "" {
				principal, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
				if err != nil {
					cfg.logger().WithError(err).Debug("api key rejected")
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if cfg.AllowLegacyHeaders && legacyUser != "" && legacyOrg != "" {
				actor, err := app.ActorForMember(req.Context(), r, legacyOrg, legacyUser)
				if err != nil {
					respondStatusError(w, handleError(req.Context(), err))
					return
				}
				cfg.logger().WithFields(logrus.Fields{"user_id": legacyUser, "org_id": legacyOrg}).
					Warn("request authenticated by X-User-Id header; do not enable this outside development")
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), Principal{Actor: actor, Source: "legacy_header"})))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
