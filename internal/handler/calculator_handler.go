package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/subshare/internal/middleware"
	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/pricing"
)

// ServiceCatalog はサービス一覧の取得に必要なインターフェース。
// poolclient.Clientが満たす。
type ServiceCatalog interface {
	ListServices(ctx context.Context) ([]model.ServiceInfo, error)
	GetServiceInfo(ctx context.Context, serviceID string) model.ServiceInfo
}

// DisplayDefaults は金額表示の既定の通貨とロケール。
type DisplayDefaults struct {
	Currency string
	Locale   string
}

// CalculatorHandler は料金計算機とサービス一覧のHTTPハンドラー。
type CalculatorHandler struct {
	catalog  ServiceCatalog
	defaults DisplayDefaults
	logger   *slog.Logger
}

// NewCalculatorHandler はCalculatorHandlerを生成する。
func NewCalculatorHandler(catalog ServiceCatalog, defaults DisplayDefaults, logger *slog.Logger) *CalculatorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalculatorHandler{catalog: catalog, defaults: defaults, logger: logger}
}

type calculatorResponse struct {
	ServiceID  string         `json:"service_id,omitempty"`
	UnitPrice  float64        `json:"unit_price"`
	Members    int            `json:"members"`
	MaxMembers int            `json:"max_members"`
	Billing    string         `json:"billing"`
	Currency   string         `json:"currency"`
	Result     pricing.Result `json:"result"`
	Formatted  formattedSplit `json:"formatted"`
}

type formattedSplit struct {
	EffectivePrice string `json:"effective_price"`
	CostPerMember  string `json:"cost_per_member"`
	MonthlySavings string `json:"monthly_savings"`
	AnnualSavings  string `json:"annual_savings"`
}

// calculation は料金計算機の入力を解釈した結果。ページ描画とJSONで共用する。
type calculation struct {
	Service    model.ServiceInfo
	UnitPrice  float64
	Members    int
	MaxMembers int
	Billing    model.BillingFrequency
	Currency   string
	Locale     string
	Result     pricing.Result
}

func (c calculation) format(amount float64) string {
	return pricing.Format(amount, c.Currency, c.Locale)
}

func (c calculation) formatted() formattedSplit {
	return formattedSplit{
		EffectivePrice: c.format(c.Result.EffectivePrice),
		CostPerMember:  c.format(c.Result.CostPerMember),
		MonthlySavings: c.format(c.Result.MonthlySavings),
		AnnualSavings:  c.format(c.Result.AnnualSavings),
	}
}

// lookupService はカタログからサービスを取得する。
// 取得できず価格が不明または範囲外の場合は同じIDのプリセットを使う。
func (h *CalculatorHandler) lookupService(ctx context.Context, id string) model.ServiceInfo {
	s := h.catalog.GetServiceInfo(ctx, id)
	if pricing.NormalizePrice(s.MonthlyCost) > 0 {
		return s
	}
	if p, ok := pricing.FindPreset(id); ok {
		return p
	}
	return s
}

// parseCalculation はクエリから計算条件を組み立てる。
// strictがtrueなら人数の範囲外をエラーにし、falseなら範囲内に丸める。
// 価格が空・不正の場合は全項目0の結果になる（エラーにしない）。
func (h *CalculatorHandler) parseCalculation(r *http.Request, strict bool) (calculation, error) {
	q := r.URL.Query()
	c := calculation{
		MaxMembers: pricing.DefaultMaxMembers,
		Billing:    model.BillingMonthly,
		Currency:   h.defaults.Currency,
		Locale:     h.defaults.Locale,
	}

	if id := strings.TrimSpace(q.Get("service")); id != "" {
		c.Service = h.lookupService(r.Context(), id)
		c.UnitPrice = pricing.NormalizePrice(c.Service.MonthlyCost)
		if c.Service.MaxMembers > 0 {
			c.MaxMembers = c.Service.MaxMembers
		}
	}
	if raw := q.Get("price"); raw != "" {
		c.UnitPrice = pricing.ParsePrice(raw)
	}

	if raw := q.Get("billing"); raw != "" {
		c.Billing = model.BillingFrequency(raw)
		if !c.Billing.Valid() {
			return c, model.NewInvalidCalculatorParamsError("billingはmonthlyまたはyearlyを指定してください")
		}
	}

	if cur := strings.ToUpper(q.Get("currency")); cur != "" && pricing.ValidCurrency(cur) {
		c.Currency = cur
	}
	if loc := q.Get("locale"); loc != "" && pricing.ValidLocale(loc) {
		c.Locale = loc
	}

	c.Members = c.MaxMembers
	if raw := q.Get("members"); raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			if strict {
				return c, model.NewInvalidCalculatorParamsError("membersは整数で指定してください")
			}
			n = c.MaxMembers
		}
		if strict {
			if err := pricing.ValidateGroupSize(n, c.MaxMembers); err != nil {
				return c, err
			}
		}
		c.Members = pricing.ClampGroupSize(n, c.MaxMembers)
	}

	c.Result = pricing.Calculate(pricing.Input{UnitPrice: c.UnitPrice, GroupSize: c.Members, Billing: c.Billing})
	return c, nil
}

// Calculate は料金の分割結果を返す。
// GET /api/calculator?price=649&members=6&billing=monthly&service=netflix
func (h *CalculatorHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	c, err := h.parseCalculation(r, true)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, calculatorResponse{
		ServiceID:  c.Service.ID,
		UnitPrice:  c.UnitPrice,
		Members:    c.Members,
		MaxMembers: c.MaxMembers,
		Billing:    string(c.Billing),
		Currency:   c.Currency,
		Result:     c.Result,
		Formatted:  c.formatted(),
	})
}

// services は外部APIのサービス一覧を返す。取得できない場合はプリセットを返す。
func (h *CalculatorHandler) services(ctx context.Context) []model.ServiceInfo {
	services, err := h.catalog.ListServices(ctx)
	if err != nil {
		h.logger.Warn("failed to list services, using presets", slog.String("error", err.Error()))
		return pricing.Presets()
	}
	if len(services) == 0 {
		return pricing.Presets()
	}
	return services
}

// ListServices はサービス一覧を返す。
// GET /api/services
func (h *CalculatorHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	services := h.services(r.Context())
	resp := make([]serviceResponse, 0, len(services))
	for _, s := range services {
		resp = append(resp, toServiceResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}
