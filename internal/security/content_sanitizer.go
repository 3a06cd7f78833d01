// Package security はアプリケーションのセキュリティ機能を提供する。
//
// 求人説明や選考メモなど利用者が入力する自由記述を保存前にサニタイズする。
// bluemondayの許可リストベースのポリシーを使う。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は自由記述フィールドのサニタイズを行う。
type Sanitizer interface {
	// RichText は求人説明などの書式付きテキストをサニタイズする。
	// 許可タグ（p, br, a, ul, ol, li, blockquote, strong, em, h3, h4）のみを通過させ、
	// aタグにはtarget="_blank"とrel="noopener noreferrer"が自動付与される。
	RichText(raw string) string

	// PlainText は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 選考メモ、氏名、部署名などに使う。
	PlainText(raw string) string

	// HTTPSURL はhttpsの絶対URLであればそのまま返し、そうでなければ空文字を返す。
	// アバター画像や企業ロゴのURLに使う。
	HTTPSURL(raw string) string
}

type contentSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はSanitizerを生成する。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	// script, iframe, style等は許可リストに含めないことで除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "strong", "em", "h3", "h4",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemes("https", "mailto")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		rich:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

// RichText は書式付きテキストをサニタイズする。
func (s *contentSanitizer) RichText(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}

// PlainText は全てのタグを除去する。
// StrictPolicyはエスケープ済みの文字列を返すため、保存用に元の文字へ戻す。
func (s *contentSanitizer) PlainText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// HTTPSURL はhttpsの絶対URLのみを通す。
func (s *contentSanitizer) HTTPSURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}

// compile-time interface check
var _ Sanitizer = (*contentSanitizer)(nil)
