package pricing

import (
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// DefaultCurrency は通貨未指定時に使うISO 4217コード。
	DefaultCurrency = "INR"
	// DefaultLocale は言語未指定時に使うBCP 47タグ。
	DefaultLocale = "en-IN"
)

// Format は金額を通貨記号とロケールの桁区切りで表示用に整形する。
// 計算結果の数値に重ねる表示層であり、計算契約には含まれない。
// 不明な通貨・ロケールはデフォルト値にフォールバックする。
func Format(amount float64, currencyCode, locale string) string {
	unit, err := currency.ParseISO(currencyCode)
	if err != nil {
		unit = currency.MustParseISO(DefaultCurrency)
	}

	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.MustParse(DefaultLocale)
	}

	p := message.NewPrinter(tag)
	return p.Sprintf("%v%.2f", currency.Symbol(unit), amount)
}

// ValidCurrency はISO 4217の通貨コードとして解釈できるかを返す。
func ValidCurrency(code string) bool {
	_, err := currency.ParseISO(code)
	return err == nil
}

// ValidLocale はBCP 47の言語タグとして解釈できるかを返す。
func ValidLocale(locale string) bool {
	_, err := language.Parse(locale)
	return err == nil
}
