// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService はイベントやプロフィールの自由入力欄からHTMLを取り除き、
// 表示側でマークアップとして解釈されないプレーンテキストにする。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は自由入力テキストのサニタイズ機能のインターフェース。
type TextSanitizerService interface {
	// Sanitize はすべてのタグを除去し、前後の空白を取り除いたテキストを返す。
	// script, styleタグは中身ごと除去される。< と > 以外のエスケープは元に戻す。
	Sanitize(text string) string
}

// unescaper は < と > を除くbluemondayのエスケープを元に戻す。
var unescaper = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`)

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerServiceの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizerService {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はテキストからHTMLを取り除く。
func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(text)
	return strings.TrimSpace(unescaper.Replace(cleaned))
}
