// Package captcher — одноразовые (ограниченные по числу использований) JWT против ботов.
// Сырой токен никогда не сохраняется: в БД и в JWT лежит только его sha256.
package captcher

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dataman/internal/logging"
	"dataman/internal/metrics"
)

const (
	DefaultTTL       = 15 * time.Minute
	DefaultMaxUsages = 10

	incrementAttempts = 3
)

// IssueType — новый токен или переиспользованная строка для того же IP.
type IssueType string

const (
	IssueNew   IssueType = "new"
	IssueReuse IssueType = "reuse"
)

// Reason — почему токен не принят.
type Reason string

const (
	ReasonJWTExpired       Reason = "jwt_expired"
	ReasonSignatureInvalid Reason = "signature_invalid"
	ReasonIPMismatch       Reason = "ip_mismatch"
	ReasonNotFound         Reason = "not_found"
	ReasonUsageExceeded    Reason = "usage_exceeded"
)

type IssueResult struct {
	Success bool      `json:"success"`
	Token   string    `json:"token"`
	Type    IssueType `json:"type"`
}

type Validation struct {
	Success bool   `json:"success"`
	Reason  Reason `json:"reason,omitempty"`
}

// Claims — полезная нагрузка JWT.
type Claims struct {
	HashedToken string `json:"hashedToken"`
	IPAddress   string `json:"ipAddress"`
	MaxUsages   int64  `json:"maxUsages"`
	jwt.RegisteredClaims
}

type Options struct {
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
	TTL           time.Duration
	MaxUsages     int64
}

type Captcher struct {
	store     *Store
	signKey   *rsa.PrivateKey
	verifyKey *rsa.PublicKey
	ttl       time.Duration
	maxUsages int64
	now       func() time.Time
	log       *zap.SugaredLogger
}

func New(store *Store, opts Options, log *zap.SugaredLogger) (*Captcher, error) {
	signKey, err := jwt.ParseRSAPrivateKeyFromPEM(opts.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("captcher: private key: %w", err)
	}
	verifyKey, err := jwt.ParseRSAPublicKeyFromPEM(opts.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("captcher: public key: %w", err)
	}
	c := &Captcher{
		store:     store,
		signKey:   signKey,
		verifyKey: verifyKey,
		ttl:       opts.TTL,
		maxUsages: opts.MaxUsages,
		now:       time.Now,
		log:       logging.OrNop(log),
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.maxUsages <= 0 {
		c.maxUsages = DefaultMaxUsages
	}
	return c, nil
}

// HashToken — hex(sha256(raw)).
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (c *Captcher) sign(hashed, ip string, maxUsages int64) (string, error) {
	now := c.now()
	claims := Claims{
		HashedToken: hashed,
		IPAddress:   ip,
		MaxUsages:   maxUsages,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.signKey)
}

// IssueToken переиспользует действующую строку для IP или создаёт новую.
func (c *Captcher) IssueToken(ctx context.Context, clientIP string) (IssueResult, error) {
	row, err := c.store.FetchValidByIP(ctx, clientIP)
	if err != nil {
		metrics.CaptcherDecisions.WithLabelValues("issue", "error").Inc()
		return IssueResult{}, err
	}
	if row != nil {
		token, err := c.sign(row.Hashed, clientIP, row.MaxUsages)
		if err != nil {
			return IssueResult{}, err
		}
		metrics.CaptcherDecisions.WithLabelValues("issue", string(IssueReuse)).Inc()
		c.log.Debugw("captcher token reused", "ip", clientIP, "id", row.ID)
		return IssueResult{Success: true, Token: token, Type: IssueReuse}, nil
	}

	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	hashed := HashToken(raw)
	created, err := c.store.Create(ctx, clientIP, hashed, c.now().Add(c.ttl), c.maxUsages)
	if err != nil {
		metrics.CaptcherDecisions.WithLabelValues("issue", "error").Inc()
		return IssueResult{}, err
	}
	token, err := c.sign(hashed, clientIP, c.maxUsages)
	if err != nil {
		return IssueResult{}, err
	}
	metrics.CaptcherDecisions.WithLabelValues("issue", string(IssueNew)).Inc()
	c.log.Debugw("captcher token issued", "ip", clientIP, "id", created.ID)
	return IssueResult{Success: true, Token: token, Type: IssueNew}, nil
}

// ValidateToken: подпись и срок, IP, строка по хэшу, лимит использований, +1 к счётчику.
func (c *Captcher) ValidateToken(ctx context.Context, token, clientIP string) Validation {
	v := c.validate(ctx, token, clientIP)
	result := "ok"
	if !v.Success {
		result = string(v.Reason)
	}
	metrics.CaptcherDecisions.WithLabelValues("validate", result).Inc()
	return v
}

func (c *Captcher) validate(ctx context.Context, token, clientIP string) Validation {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.verifyKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Validation{Reason: ReasonJWTExpired}
		}
		return Validation{Reason: ReasonSignatureInvalid}
	}
	if claims.IPAddress != clientIP {
		return Validation{Reason: ReasonIPMismatch}
	}

	for attempt := 0; attempt < incrementAttempts; attempt++ {
		row, err := c.store.FetchValidByHash(ctx, claims.HashedToken)
		if err != nil {
			c.log.Warnw("captcher lookup failed", "error", err)
			return Validation{Reason: ReasonNotFound}
		}
		if row == nil {
			return Validation{Reason: ReasonNotFound}
		}
		if row.UsageCount >= row.MaxUsages {
			return Validation{Reason: ReasonUsageExceeded}
		}
		ok, err := c.store.IncrementUsage(ctx, *row)
		if err != nil {
			// сбой счётчика не отклоняет уже проверенный токен
			c.log.Warnw("captcher usage increment failed", "id", row.ID, "error", err)
			return Validation{Success: true}
		}
		if ok {
			return Validation{Success: true}
		}
	}
	return Validation{Reason: ReasonUsageExceeded}
}
