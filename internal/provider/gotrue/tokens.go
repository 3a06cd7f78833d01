package gotrue

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/provider"
)

// tokenResponse は /token と /signup が返すセッション形式のレスポンス。
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

// userResponse はGoTrueのユーザーオブジェクト。
type userResponse struct {
	ID               string             `json:"id"`
	Email            string             `json:"email"`
	EmailConfirmedAt *time.Time         `json:"email_confirmed_at"`
	UserMetadata     model.UserMetadata `json:"user_metadata"`
	CreatedAt        time.Time          `json:"created_at"`
}

// signUpResponse は /signup のレスポンス。
// メール確認が必要な設定ではユーザーオブジェクトがトップレベルに返る。
type signUpResponse struct {
	tokenResponse
	userResponse
}

func (u userResponse) toModel() *model.AuthUser {
	return &model.AuthUser{
		ID:               u.ID,
		Email:            u.Email,
		EmailConfirmedAt: u.EmailConfirmedAt,
		Metadata:         u.UserMetadata,
		CreatedAt:        u.CreatedAt,
	}
}

// errorResponse はGoTrueのエラーレスポンス。バージョンによりキーが異なる。
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// decodeError は4xxレスポンスを*provider.AuthErrorに変換する。
func decodeError(status int, body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return &provider.AuthError{Status: status, Message: http.StatusText(status)}
	}

	message := firstNonEmpty(e.ErrorDescription, e.Msg, e.Message, e.Error, http.StatusText(status))
	code := firstNonEmpty(e.ErrorCode, e.Error)
	return &provider.AuthError{Status: status, Code: code, Message: message}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// accessClaims はアクセストークンのクレーム。
type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// tokenParser はアクセストークンを解析する。
// シークレット未設定時は署名を検証せずにクレームだけを読む。
type tokenParser struct {
	secret []byte
}

func newTokenParser(secret string) *tokenParser {
	return &tokenParser{secret: []byte(secret)}
}

func (p *tokenParser) parse(token string) (*accessClaims, error) {
	claims := &accessClaims{}
	if len(p.secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// sessionFromToken はトークンレスポンスからセッションを組み立てる。
// 有効期限はexpires_at、JWTのexp、expires_inの順に採用する。
func (c *Client) sessionFromToken(resp tokenResponse) (*model.AuthSession, error) {
	if resp.AccessToken == "" {
		return nil, errors.New("token response has no access token")
	}

	claims, err := c.tokens.parse(resp.AccessToken)
	if err != nil {
		return nil, &provider.AuthError{
			Status:  http.StatusUnauthorized,
			Code:    "bad_jwt",
			Message: fmt.Sprintf("invalid access token: %v", err),
		}
	}

	user := resp.User.toModel()
	if user.ID == "" {
		user.ID = claims.Subject
	}
	if user.Email == "" {
		user.Email = claims.Email
	}
	if claims.Subject != "" && claims.Subject != user.ID {
		return nil, &provider.AuthError{
			Status:  http.StatusUnauthorized,
			Code:    "bad_jwt",
			Message: "access token subject does not match user",
		}
	}

	var expiresAt time.Time
	switch {
	case resp.ExpiresAt > 0:
		expiresAt = time.Unix(resp.ExpiresAt, 0)
	case claims.ExpiresAt != nil:
		expiresAt = claims.ExpiresAt.Time
	case resp.ExpiresIn > 0:
		expiresAt = c.config.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}

	return &model.AuthSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    tokenType,
		ExpiresIn:    resp.ExpiresIn,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}
