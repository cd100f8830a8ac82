package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/subshare/internal/middleware"
	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/pool"
)

// PoolServiceInterface はプールハンドラーが必要とするサービスインターフェース。
type PoolServiceInterface interface {
	Pools(ctx context.Context, userID string) []pool.PoolView
	MyPools(ctx context.Context) ([]pool.MyPoolView, error)
	Dashboard(ctx context.Context, userID string) *pool.Dashboard
	Join(ctx context.Context, userID, poolID string) (*pool.Outcome, error)
	Leave(ctx context.Context, userID, poolID string) (*pool.Outcome, error)
	Create(ctx context.Context, userID string, in pool.CreateInput) (*pool.Outcome, error)
}

var _ PoolServiceInterface = (*pool.Service)(nil)

// PoolHandler はプール操作のHTTPハンドラー。
type PoolHandler struct {
	service PoolServiceInterface
	logger  *slog.Logger
}

// NewPoolHandler はPoolHandlerを生成する。
func NewPoolHandler(service PoolServiceInterface, logger *slog.Logger) *PoolHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolHandler{service: service, logger: logger}
}

type serviceResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	LogoURL     string  `json:"logo_url"`
	Color       string  `json:"color"`
	MonthlyCost float64 `json:"monthly_cost"`
	MaxMembers  int     `json:"max_members"`
}

type poolResponse struct {
	ID             string          `json:"id"`
	OwnerUserID    string          `json:"owner_user_id"`
	ServiceID      string          `json:"service_id"`
	Name           string          `json:"name"`
	SlotsTotal     int             `json:"slots_total"`
	SlotsAvailable int             `json:"slots_available"`
	SlotsTaken     int             `json:"slots_taken"`
	CostPerSlot    float64         `json:"cost_per_slot"`
	IsActive       bool            `json:"is_active"`
	State          string          `json:"state"`
	IsOwner        bool            `json:"is_owner"`
	IsMember       bool            `json:"is_member"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Service        serviceResponse `json:"service"`
}

type membershipResponse struct {
	ID        string `json:"id"`
	IsPrimary bool   `json:"is_primary"`
	Status    string `json:"status"`
}

type myPoolResponse struct {
	poolResponse
	Membership membershipResponse `json:"membership"`
}

type actionResponse struct {
	Kind      string `json:"kind"`
	PoolID    string `json:"pool_id,omitempty"`
	State     string `json:"state"`
	ErrorCode string `json:"error_code,omitempty"`
}

type outcomeResponse struct {
	Action actionResponse `json:"action"`
	Pools  []poolResponse `json:"pools"`
}

type createPoolRequest struct {
	ServiceID            string  `json:"service_id"`
	Name                 string  `json:"name"`
	Description          string  `json:"description"`
	// ブラウザ側で暗号化済みの値。サーバーは復号せず外部APIへそのまま渡す
	EncryptedCredentials string  `json:"encrypted_credentials"`
	SlotsTotal           int     `json:"slots_total"`
	TotalCost            float64 `json:"total_cost"`
	CostPerSlot          float64 `json:"cost_per_slot"`
}

// logoPath はサービスロゴのプロキシURLを返す。
func logoPath(serviceID string) string {
	return "/logos/" + url.PathEscape(serviceID)
}

func toServiceResponse(s model.ServiceInfo) serviceResponse {
	return serviceResponse{
		ID:          s.ID,
		Name:        s.Name,
		LogoURL:     logoPath(s.ID),
		Color:       s.Color,
		MonthlyCost: s.MonthlyCost,
		MaxMembers:  s.MaxMembers,
	}
}

func toPoolResponse(v pool.PoolView) poolResponse {
	p := v.Pool
	return poolResponse{
		ID:             p.ID,
		OwnerUserID:    p.OwnerUserID,
		ServiceID:      p.ServiceID,
		Name:           p.Name,
		SlotsTotal:     p.SlotsTotal,
		SlotsAvailable: p.SlotsAvailable,
		SlotsTaken:     p.SlotsTaken(),
		CostPerSlot:    p.CostPerSlot,
		IsActive:       p.IsActive,
		State:          string(v.State),
		IsOwner:        v.IsOwner,
		IsMember:       v.IsMember,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
		Service:        toServiceResponse(v.Service),
	}
}

func toPoolResponses(views []pool.PoolView) []poolResponse {
	out := make([]poolResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toPoolResponse(v))
	}
	return out
}

func toActionResponse(a *pool.Action) actionResponse {
	resp := actionResponse{Kind: string(a.Kind), PoolID: a.PoolID, State: string(a.State)}
	if a.Err != nil {
		resp.ErrorCode = model.ErrCodeOf(a.Err)
	}
	return resp
}

// ListPools は全プールを返す。外部APIの障害時は空の一覧を返す。
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPoolResponses(h.service.Pools(r.Context(), userID)))
}

// ListMyPools はログインユーザーが所属するプールを返す。
// GET /api/pools/mine
func (h *PoolHandler) ListMyPools(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	mine, err := h.service.MyPools(r.Context())
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	resp := make([]myPoolResponse, 0, len(mine))
	for _, mp := range mine {
		resp = append(resp, myPoolResponse{
			poolResponse: toPoolResponse(mp.PoolView),
			Membership: membershipResponse{
				ID:        mp.Membership.ID,
				IsPrimary: mp.Membership.IsPrimary,
				Status:    string(mp.Membership.Status),
			},
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreatePool はプールを作成する。
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createPoolRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	out, err := h.service.Create(r.Context(), userID, pool.CreateInput{
		ServiceID:            req.ServiceID,
		Name:                 req.Name,
		Description:          req.Description,
		EncryptedCredentials: req.EncryptedCredentials,
		SlotsTotal:           req.SlotsTotal,
		TotalCost:            req.TotalCost,
		CostPerSlot:          req.CostPerSlot,
	})
	h.writeOutcome(w, http.StatusCreated, out, err)
}

// JoinPool はプールに参加する。
// POST /api/pools/{id}/join
func (h *PoolHandler) JoinPool(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	out, err := h.service.Join(r.Context(), userID, chi.URLParam(r, "id"))
	h.writeOutcome(w, http.StatusOK, out, err)
}

// LeavePool はプールから退出する。
// POST /api/pools/{id}/leave
func (h *PoolHandler) LeavePool(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	out, err := h.service.Leave(r.Context(), userID, chi.URLParam(r, "id"))
	h.writeOutcome(w, http.StatusOK, out, err)
}

// writeOutcome は変更操作の結果を書き込む。失敗した操作は再試行可能として返す。
func (h *PoolHandler) writeOutcome(w http.ResponseWriter, status int, out *pool.Outcome, err error) {
	if err != nil {
		middleware.WriteRetryableError(w, h.logger, err)
		return
	}
	writeJSON(w, status, outcomeResponse{
		Action: toActionResponse(out.Action),
		Pools:  toPoolResponses(out.Pools),
	})
}
