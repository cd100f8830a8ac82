package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/hitoshi/subshare/internal/middleware"
	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/pool"
	"github.com/hitoshi/subshare/internal/pricing"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// StaticFiles は埋め込みの静的ファイル（CSS, JS）を返す。
func StaticFiles() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

var pageNames = []string{
	"landing", "privacy", "terms", "refund",
	"dashboard", "pools", "profile", "settings", "payment_methods",
}

// testimonial はランディングページの利用者の声。
type testimonial struct {
	Name    string
	City    string
	Service string
	Quote   string
}

// faq はランディングページのよくある質問。
type faq struct {
	Question string
	Answer   string
}

var testimonials = []testimonial{
	{Name: "Priya S.", City: "Bengaluru", Service: "Spotify Premium Family", Quote: "We split Spotify six ways and I pay less than a coffee each month."},
	{Name: "Arjun M.", City: "Pune", Service: "Netflix Premium", Quote: "Setting up the pool took two minutes. Everyone sees exactly what they owe."},
	{Name: "Neha K.", City: "Delhi", Service: "Microsoft 365 Family", Quote: "Our flat shares one Microsoft 365 plan now. No more chasing people for money."},
}

var faqs = []faq{
	{Question: "How is my share calculated?", Answer: "The plan price is divided equally between members and rounded to the nearest paisa. Yearly billing applies a 10% platform discount before splitting."},
	{Question: "What happens when a pool is full?", Answer: "A full pool cannot be joined. You can create your own pool for the same service instead."},
	{Question: "Do I get a refund if I leave a pool?", Answer: "No. Leaving frees your slot for someone else, but the current billing period is not refunded."},
	{Question: "Do you store my card number?", Answer: "No. We only keep the card brand, the last four digits and the expiry date for display."},
}

// pageData はすべてのページテンプレートに渡す共通データ。
type pageData struct {
	Title    string
	Path     string
	LoggedIn bool
	Currency string
	Locale   string
	Content  any
}

type landingContent struct {
	Calc         calculation
	Services     []model.ServiceInfo
	Testimonials []testimonial
	FAQs         []faq
	MemberRange  []int
}

type dashboardContent struct {
	Dashboard      *pool.Dashboard
	MonthlySpend   float64
	MonthlySavings float64
}

type poolsContent struct {
	Dashboard *pool.Dashboard
	Services  []model.ServiceInfo
}

// PageHandler はサーバー描画ページのHTTPハンドラー。
type PageHandler struct {
	pages  map[string]*template.Template
	calc   *CalculatorHandler
	pools  PoolServiceInterface
	users  UserServiceInterface
	logger *slog.Logger
}

// NewPageHandler はテンプレートを読み込んでPageHandlerを生成する。
func NewPageHandler(calc *CalculatorHandler, pools PoolServiceInterface, users UserServiceInterface, logger *slog.Logger) (*PageHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	funcs := template.FuncMap{
		"money": pricing.Format,
		"logo":  logoPath,
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &PageHandler{pages: pages, calc: calc, pools: pools, users: users, logger: logger}, nil
}

// render はテンプレートをバッファに描画してから書き込む。途中で失敗した場合は500を返す。
func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, name string, data pageData) {
	data.Path = r.URL.Path
	if _, err := middleware.UserIDFromContext(r.Context()); err == nil {
		data.LoggedIn = true
	}
	if data.Currency == "" {
		data.Currency = h.calc.defaults.Currency
		data.Locale = h.calc.defaults.Locale
	}

	var buf bytes.Buffer
	if err := h.pages[name].Execute(&buf, data); err != nil {
		h.logger.Error("failed to render page", slog.String("page", name), slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// settingsFor はログインユーザーの表示設定を返す。取得できない場合は既定値を使う。
func (h *PageHandler) settingsFor(r *http.Request, userID string) *model.UserSettings {
	s, err := h.users.Settings(r.Context(), userID)
	if err != nil {
		h.logger.Warn("failed to load settings", slog.String("error", err.Error()))
		return &model.UserSettings{
			Currency:       h.calc.defaults.Currency,
			Locale:         h.calc.defaults.Locale,
			DefaultBilling: model.BillingMonthly,
		}
	}
	return s
}

// Landing はトップページを表示する。料金計算機はクエリを人数の範囲内に丸めて計算する。
// GET /
func (h *PageHandler) Landing(w http.ResponseWriter, r *http.Request) {
	calc, err := h.calc.parseCalculation(r, false)
	if err != nil {
		// 不正なbillingは月払いとして表示する
		q := r.URL.Query()
		q.Del("billing")
		r2 := r.Clone(r.Context())
		r2.URL.RawQuery = q.Encode()
		calc, _ = h.calc.parseCalculation(r2, false)
	}

	members := make([]int, 0, calc.MaxMembers)
	for i := pricing.MinGroupSize; i <= calc.MaxMembers; i++ {
		members = append(members, i)
	}

	h.render(w, r, "landing", pageData{
		Title:    "Split your subscriptions",
		Currency: calc.Currency,
		Locale:   calc.Locale,
		Content: landingContent{
			Calc:         calc,
			Services:     h.calc.services(r.Context()),
			Testimonials: testimonials,
			FAQs:         faqs,
			MemberRange:  members,
		},
	})
}

// Privacy はプライバシーポリシーを表示する。
func (h *PageHandler) Privacy(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "privacy", pageData{Title: "Privacy Policy"})
}

// Terms は利用規約を表示する。
func (h *PageHandler) Terms(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "terms", pageData{Title: "Terms of Service"})
}

// RefundPolicy は返金ポリシーを表示する。
func (h *PageHandler) RefundPolicy(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "refund", pageData{Title: "Refund Policy"})
}

// Dashboard はダッシュボードの概要を表示する。
// GET /dashboard
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	settings := h.settingsFor(r, userID)
	d := h.pools.Dashboard(r.Context(), userID)

	content := dashboardContent{Dashboard: d}
	for _, mp := range d.MyPools {
		content.MonthlySpend += mp.Pool.CostPerSlot
		if saved := mp.Service.MonthlyCost - mp.Pool.CostPerSlot; saved > 0 {
			content.MonthlySavings += saved
		}
	}

	h.render(w, r, "dashboard", pageData{
		Title:    "Dashboard",
		Currency: settings.Currency,
		Locale:   settings.Locale,
		Content:  content,
	})
}

// Pools はプール一覧と作成フォームを表示する。
// GET /dashboard/pools
func (h *PageHandler) Pools(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	settings := h.settingsFor(r, userID)

	h.render(w, r, "pools", pageData{
		Title:    "Pools",
		Currency: settings.Currency,
		Locale:   settings.Locale,
		Content: poolsContent{
			Dashboard: h.pools.Dashboard(r.Context(), userID),
			Services:  h.calc.services(r.Context()),
		},
	})
}

// Profile はプロフィールを表示する。
// GET /dashboard/profile
func (h *PageHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	p, err := h.users.Profile(r.Context(), userID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, "profile", pageData{Title: "Profile", Content: p})
}

// Settings は設定画面を表示する。
// GET /dashboard/settings
func (h *PageHandler) Settings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	settings := h.settingsFor(r, userID)
	h.render(w, r, "settings", pageData{
		Title:    "Settings",
		Currency: settings.Currency,
		Locale:   settings.Locale,
		Content:  settings,
	})
}

// PaymentMethods は支払い方法の一覧を表示する。
// GET /dashboard/payment-methods
func (h *PageHandler) PaymentMethods(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	methods, err := h.users.PaymentMethods(r.Context(), userID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, "payment_methods", pageData{Title: "Payment methods", Content: methods})
}

// renderError はページ描画前のエラーを処理する。
// ユーザーが存在しない場合はログインからやり直させる。
func (h *PageHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	if model.IsCode(err, model.ErrCodeUserNotFound) {
		http.Redirect(w, r, "/auth/google/login", http.StatusSeeOther)
		return
	}
	h.logger.Error("failed to load page data", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
