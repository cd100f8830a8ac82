// Package pricing はサブスクリプション料金の分割計算と節約額の算出を提供する。
// 副作用もI/Oも持たない純粋関数のみで構成される。
package pricing

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hitoshi/subshare/internal/model"
)

const (
	// YearlyDiscount は年払い時にプラットフォームが適用する固定割引率。
	// プロバイダー由来の値ではない。
	YearlyDiscount = 0.10

	// DefaultMaxMembers はサービスが上限人数を公開していない場合の上限。
	DefaultMaxMembers = 6

	// MinGroupSize は計算に使うグループ人数の下限。
	MinGroupSize = 1

	// MaxUnitPrice は計算対象とする価格の上限。これを超える値は未入力として扱う。
	MaxUnitPrice = 1e9

	monthsPerYear = 12
)

// Input は料金計算の入力。
type Input struct {
	UnitPrice float64                // サービスの月額定価（またはユーザー入力の価格）
	GroupSize int                    // 分担する人数
	Billing   model.BillingFrequency // 請求サイクル
}

// Result は料金計算の結果。金額はすべて小数第2位に丸めた値。
type Result struct {
	EffectivePrice    float64 `json:"effective_price"`
	CostPerMember     float64 `json:"cost_per_member"`
	MonthlySavings    float64 `json:"monthly_savings"`
	SavingsPercentage int     `json:"savings_percentage"`
	AnnualSavings     float64 `json:"annual_savings"`
}

// EffectivePrice は分割の基準となる価格を返す。
// 年払いの場合は分割前に unitPrice * 0.9 を適用する。
func EffectivePrice(unitPrice float64, billing model.BillingFrequency) float64 {
	if billing == model.BillingYearly {
		return unitPrice * (1 - YearlyDiscount)
	}
	return unitPrice
}

// Calculate は1人あたりの負担額と、単独で支払う場合と比べた節約額を算出する。
// 価格が0以下、NaN、またはMaxUnitPriceを超える場合はエラーにせず全項目0を返す（UIでは未入力扱い）。
// GroupSizeが1未満の場合は1として扱う。
//
// 内部では最小通貨単位（1/100）の整数値で計算するため、
// costPerMember の丸め結果がそのまま節約額に反映される。
func Calculate(in Input) Result {
	if !isPositivePrice(in.UnitPrice) {
		return Result{}
	}

	groupSize := in.GroupSize
	if groupSize < MinGroupSize {
		groupSize = MinGroupSize
	}

	effective := EffectivePrice(in.UnitPrice, in.Billing)
	effectiveCents := toCents(effective)
	if !(effectiveCents > 0) || math.IsInf(effectiveCents, 0) {
		return Result{}
	}

	costCents := math.Round(effectiveCents / float64(groupSize))
	savingsCents := effectiveCents - costCents
	percentage := int(math.Round(savingsCents / effectiveCents * 100))

	return Result{
		EffectivePrice:    fromCents(effectiveCents),
		CostPerMember:     fromCents(costCents),
		MonthlySavings:    fromCents(savingsCents),
		SavingsPercentage: percentage,
		AnnualSavings:     fromCents(savingsCents * monthsPerYear),
	}
}

// ClampGroupSize はステッパー操作向けに人数を [1, maxMembers] に丸め込む。
// maxMembersが1未満の場合はDefaultMaxMembersを上限として使う。
func ClampGroupSize(groupSize, maxMembers int) int {
	if maxMembers < MinGroupSize {
		maxMembers = DefaultMaxMembers
	}
	if groupSize < MinGroupSize {
		return MinGroupSize
	}
	if groupSize > maxMembers {
		return maxMembers
	}
	return groupSize
}

// ValidateGroupSize は数値入力欄向けに人数が [1, maxMembers] の範囲内かを検証する。
func ValidateGroupSize(groupSize, maxMembers int) error {
	if maxMembers < MinGroupSize {
		maxMembers = DefaultMaxMembers
	}
	if groupSize < MinGroupSize || groupSize > maxMembers {
		return model.NewInvalidCalculatorParamsError(
			fmt.Sprintf("人数は%dから%dの範囲で指定してください: %d", MinGroupSize, maxMembers, groupSize),
		)
	}
	return nil
}

// ParsePrice はフォーム入力の価格文字列を数値に変換する。
// 空文字や数値以外、または範囲外の値の場合は0を返す。桁区切りのカンマは無視する。
func ParsePrice(raw string) float64 {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return NormalizePrice(v)
}

// NormalizePrice は (0, MaxUnitPrice] の範囲外の価格を0に置き換える。
func NormalizePrice(v float64) float64 {
	if !isPositivePrice(v) {
		return 0
	}
	return v
}

func isPositivePrice(v float64) bool {
	// NaNは比較がすべてfalseになるため両端の比較で除外される
	return v > 0 && v <= MaxUnitPrice
}

func toCents(v float64) float64 {
	return math.Round(v * 100)
}

func fromCents(c float64) float64 {
	return c / 100
}
