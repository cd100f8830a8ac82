package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプール名や説明文からマークアップを取り除き、プレーンテキストにする。
// bluemondayのStrictPolicyで全タグを除去したうえで実体参照を戻す。
// *bluemonday.Policy は並行利用できる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はマークアップを除去し、空白を1つに詰めて前後を削る。
// maxRunesが正の場合はその文字数で切り詰める。
func (s *TextSanitizer) Clean(raw string, maxRunes int) string {
	out := raw
	// &lt;b&gt; のようなエスケープ済みのタグも戻した後に除去する
	for i := 0; i < 3; i++ {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			break
		}
		out = next
	}

	out = strings.Join(strings.Fields(out), " ")
	if maxRunes > 0 && utf8.RuneCountInString(out) > maxRunes {
		out = strings.TrimSpace(string([]rune(out)[:maxRunes]))
	}
	return out
}
