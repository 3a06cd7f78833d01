// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はダッシュボード利用者の役割を表す。
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleHRManager Role = "hr_manager"
	RoleRecruiter Role = "recruiter"
	RoleAnalyst   Role = "analyst"
)

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHRManager, RoleRecruiter, RoleAnalyst:
		return true
	default:
		return false
	}
}

// UserMetadata はサインアップ時に認証プロバイダーへ渡すユーザーメタデータ。
// プロバイダー側のトリガーでuser_profilesの初期値として使われる。
type UserMetadata struct {
	FullName   string `json:"full_name"`
	Role       Role   `json:"role"`
	Department string `json:"department"`
}

// WithDefaults は未指定の項目を既定値で補完したメタデータを返す。
// full_nameはメールアドレスのローカル部、roleはrecruiter、departmentはhr。
func (m UserMetadata) WithDefaults(email string) UserMetadata {
	if m.FullName == "" {
		m.FullName, _, _ = strings.Cut(email, "@")
	}
	if m.Role == "" {
		m.Role = RoleRecruiter
	}
	if m.Department == "" {
		m.Department = "hr"
	}
	return m
}

// AuthUser は認証プロバイダーが管理するユーザー（認証主体）を表す。
type AuthUser struct {
	ID               string       `json:"id"`
	Email            string       `json:"email"`
	EmailConfirmedAt *time.Time   `json:"email_confirmed_at,omitempty"`
	Metadata         UserMetadata `json:"user_metadata"`
	CreatedAt        time.Time    `json:"created_at"`
}

// AuthSession は認証プロバイダーが発行したセッションを表す。
// プロバイダーが所有し、ローカルにはミラーとして保持する。
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *AuthUser `json:"user"`
}

// ExpiresWithin はセッションが now から margin 以内に期限切れになるかを返す。
func (s *AuthSession) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// AuthResponse はサインアップ/サインインの結果を表す。
// メール確認が必要な場合はSessionがnilになる。
type AuthResponse struct {
	User    *AuthUser    `json:"user"`
	Session *AuthSession `json:"session"`
}

// UserProfile はuser_profilesテーブルの1行を表す。
// セッションとは別のアプリケーションレベルのレコード。
type UserProfile struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Role       Role      `json:"role"`
	Department string    `json:"department"`
	AvatarURL  string    `json:"avatar_url"`
	Phone      string    `json:"phone"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProfileUpdate はプロフィールの部分更新を表す。nilのフィールドは変更しない。
// role と is_active は本人による変更対象外。
type ProfileUpdate struct {
	FullName   *string `json:"full_name,omitempty"`
	Department *string `json:"department,omitempty"`
	AvatarURL  *string `json:"avatar_url,omitempty"`
	Phone      *string `json:"phone,omitempty"`
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Department == nil && u.AvatarURL == nil && u.Phone == nil
}

// Apply は更新内容をプロフィールに反映したコピーを返す。
func (u ProfileUpdate) Apply(p UserProfile) UserProfile {
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.Department != nil {
		p.Department = *u.Department
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	return p
}
