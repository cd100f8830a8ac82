package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/subshare/internal/middleware"
	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/poolclient"
)

// TokenIssuerName は外部プールAPI向けトークンのissクレーム。
const TokenIssuerName = "subshare"

// APIClaims は外部プールAPIが検証するクレーム。
type APIClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer は外部プールAPIが信頼するHS256署名のbearerトークンを発行する。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。secretが空の場合はエラーを返す。
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("missing token secret")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token TTL must be positive: %s", ttl)
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue はユーザーIDとメールアドレスを含むトークンと有効期限を返す。
func (ti *TokenIssuer) Issue(userID, email string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("user ID is required")
	}

	now := ti.now()
	expiresAt := now.Add(ti.ttl).Truncate(time.Second)
	claims := APIClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    TokenIssuerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error signing token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify は署名、issuer、有効期限を検証しクレームを返す。
// "Bearer " プレフィックスは無視する。
func (ti *TokenIssuer) Verify(token string) (*APIClaims, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return nil, errors.New("missing token")
	}

	claims := &APIClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, fmt.Errorf("could not parse token: %w", err)
	}
	return claims, nil
}

// UserFinder はトークンに載せるユーザー情報を引く。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// ContextTokenSource はリクエストコンテキストのログインユーザーに対してトークンを発行する。
// poolclient.TokenSource を満たす。
type ContextTokenSource struct {
	issuer *TokenIssuer
	users  UserFinder
}

// NewContextTokenSource はContextTokenSourceを生成する。
func NewContextTokenSource(issuer *TokenIssuer, users UserFinder) *ContextTokenSource {
	return &ContextTokenSource{issuer: issuer, users: users}
}

// Token はコンテキストのユーザーIDからbearerトークンを発行する。
// 未ログインのコンテキストでは空文字を返し、呼び出し側でAUTH_ERRORとして扱う。
func (s *ContextTokenSource) Token(ctx context.Context) (string, error) {
	userID, err := middleware.UserIDFromContext(ctx)
	if err != nil {
		return "", nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return "", nil
	}

	token, _, err := s.issuer.Issue(user.ID, user.Email)
	if err != nil {
		return "", err
	}
	return token, nil
}

var _ poolclient.TokenSource = (*ContextTokenSource)(nil)
