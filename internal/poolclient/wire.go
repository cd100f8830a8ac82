package poolclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hitoshi/subshare/internal/model"
)

// 外部APIのレスポンスはここで定義する型を経由してのみドメインモデルに変換する。
// 数値はJSON数値・数値文字列のどちらでも受け付ける。

type wirePool struct {
	ID             string      `json:"id"`
	OwnerUserID    string      `json:"owner_user_id"`
	ServiceID      string      `json:"service_id"`
	Name           string      `json:"name"`
	SlotsTotal     *int        `json:"slots_total"`
	SlotsAvailable *int        `json:"slots_available"`
	CostPerSlot    json.Number `json:"cost_per_slot"`
	IsActive       *bool       `json:"is_active"`
	CreatedAt      *time.Time  `json:"created_at"`
	UpdatedAt      *time.Time  `json:"updated_at"`
}

type wireMembership struct {
	ID        string `json:"id"`
	PoolID    string `json:"pool_id"`
	UserID    string `json:"user_id"`
	IsPrimary bool   `json:"is_primary"`
	Status    string `json:"status"`
}

type wireUserPool struct {
	Pool       *wirePool       `json:"pool"`
	Membership *wireMembership `json:"membership"`
}

type wireService struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	LogoURL     string      `json:"logo_url"`
	Color       string      `json:"color"`
	MonthlyCost json.Number `json:"monthly_cost"`
	MaxMembers  *int        `json:"max_members"`
}

type createPoolRequest struct {
	ServiceID            string  `json:"service_id"`
	Name                 string  `json:"name"`
	Description          string  `json:"description,omitempty"`
	EncryptedCredentials string  `json:"encrypted_credentials"`
	SlotsTotal           int     `json:"slots_total"`
	CostPerSlot          float64 `json:"cost_per_slot"`
}

type leavePoolRequest struct {
	MembershipID string `json:"membership_id"`
}

const (
	// defaultMaxMembers はmax_membersが省略されたサービスの上限人数。
	defaultMaxMembers = 6

	// minSlotsTotal はプールの総枠数の下限。オーナーと1人以上の参加者。
	minSlotsTotal = 2

	// maxAmount は金額として受け付ける絶対値の上限。
	maxAmount = 1e9
)

// decodeList は裸の配列と {"data": [...]} の両方の形式を受け付ける。
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []T
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}

	// dataキーのないオブジェクトは0件ではなく形式エラーとする
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		return nil, errors.New(`list response is neither an array nor {"data": [...]}`)
	}
	if bytes.Equal(envelope.Data, []byte("null")) {
		return nil, nil
	}
	var list []T
	if err := json.Unmarshal(envelope.Data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// decodeOne は単体レコードを読む。{"data": {...}} 形式も受け付ける。
func decodeOne[T any](body []byte) (*T, error) {
	trimmed := bytes.TrimSpace(body)
	var envelope struct {
		Data *T `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}

	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func parseNumber(n json.Number, field string) (float64, error) {
	if n == "" {
		return 0, fmt.Errorf("%s is missing", field)
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%s is not a finite number: %q", field, n)
	}
	if math.Abs(f) > maxAmount {
		return 0, fmt.Errorf("%s is out of range: %q", field, n)
	}
	return f, nil
}

func (w *wirePool) toModel() (model.Pool, error) {
	if strings.TrimSpace(w.ID) == "" {
		return model.Pool{}, fmt.Errorf("pool id is missing")
	}
	if strings.TrimSpace(w.ServiceID) == "" {
		return model.Pool{}, fmt.Errorf("pool %s: service_id is missing", w.ID)
	}
	if w.SlotsTotal == nil || w.SlotsAvailable == nil {
		return model.Pool{}, fmt.Errorf("pool %s: slot counts are missing", w.ID)
	}
	total, avail := *w.SlotsTotal, *w.SlotsAvailable
	if total < minSlotsTotal {
		return model.Pool{}, fmt.Errorf("pool %s: slots_total must be at least %d, got %d", w.ID, minSlotsTotal, total)
	}
	if avail < 0 || avail > total {
		return model.Pool{}, fmt.Errorf("pool %s: slots_available %d out of range 0..%d", w.ID, avail, total)
	}
	cost, err := parseNumber(w.CostPerSlot, "cost_per_slot")
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s: %w", w.ID, err)
	}
	if cost < 0 {
		return model.Pool{}, fmt.Errorf("pool %s: cost_per_slot must not be negative", w.ID)
	}

	p := model.Pool{
		ID:             w.ID,
		OwnerUserID:    w.OwnerUserID,
		ServiceID:      w.ServiceID,
		Name:           w.Name,
		SlotsTotal:     total,
		SlotsAvailable: avail,
		CostPerSlot:    cost,
		// is_active省略時は掲載中とみなす
		IsActive: w.IsActive == nil || *w.IsActive,
	}
	if w.CreatedAt != nil {
		p.CreatedAt = *w.CreatedAt
	}
	if w.UpdatedAt != nil {
		p.UpdatedAt = *w.UpdatedAt
	}
	return p, nil
}

func (w *wireMembership) toModel() (model.Membership, error) {
	if strings.TrimSpace(w.ID) == "" {
		return model.Membership{}, fmt.Errorf("membership id is missing")
	}
	status := model.MembershipStatus(w.Status)
	if status == "" {
		status = model.MembershipActive
	}
	if !status.Valid() {
		return model.Membership{}, fmt.Errorf("membership %s: unknown status %q", w.ID, w.Status)
	}
	return model.Membership{
		ID:        w.ID,
		PoolID:    w.PoolID,
		UserID:    w.UserID,
		IsPrimary: w.IsPrimary,
		Status:    status,
	}, nil
}

func (w *wireUserPool) toModel() (model.UserPool, error) {
	if w.Pool == nil || w.Membership == nil {
		return model.UserPool{}, fmt.Errorf("user pool record requires pool and membership")
	}
	p, err := w.Pool.toModel()
	if err != nil {
		return model.UserPool{}, err
	}
	m, err := w.Membership.toModel()
	if err != nil {
		return model.UserPool{}, err
	}
	if m.PoolID == "" {
		m.PoolID = p.ID
	}
	return model.UserPool{Pool: p, Membership: m}, nil
}

func (w *wireService) toModel() (model.ServiceInfo, error) {
	if strings.TrimSpace(w.ID) == "" {
		return model.ServiceInfo{}, fmt.Errorf("service id is missing")
	}
	if strings.TrimSpace(w.Name) == "" {
		return model.ServiceInfo{}, fmt.Errorf("service %s: name is missing", w.ID)
	}
	var cost float64
	if w.MonthlyCost != "" {
		c, err := parseNumber(w.MonthlyCost, "monthly_cost")
		if err != nil {
			return model.ServiceInfo{}, fmt.Errorf("service %s: %w", w.ID, err)
		}
		if c < 0 {
			return model.ServiceInfo{}, fmt.Errorf("service %s: monthly_cost must not be negative", w.ID)
		}
		cost = c
	}
	maxMembers := defaultMaxMembers
	if w.MaxMembers != nil {
		if *w.MaxMembers < 1 {
			return model.ServiceInfo{}, fmt.Errorf("service %s: max_members must be positive", w.ID)
		}
		maxMembers = *w.MaxMembers
	}
	return model.ServiceInfo{
		ID:          w.ID,
		Name:        w.Name,
		LogoURL:     w.LogoURL,
		Color:       w.Color,
		MonthlyCost: cost,
		MaxMembers:  maxMembers,
	}, nil
}

// parsePools はプール配列を検証済みのドメインモデルに変換する。
// 1件でも不正なレコードがあれば全体を拒否する。
func parsePools(body []byte) ([]model.Pool, error) {
	wire, err := decodeList[wirePool](body)
	if err != nil {
		return nil, model.NewValidationError("プール一覧の形式が不正です", err)
	}
	pools := make([]model.Pool, 0, len(wire))
	for i := range wire {
		p, err := wire[i].toModel()
		if err != nil {
			return nil, model.NewValidationError("プールのレコードが不正です", err)
		}
		pools = append(pools, p)
	}
	return pools, nil
}

func parsePool(body []byte) (*model.Pool, error) {
	wire, err := decodeOne[wirePool](body)
	if err != nil {
		return nil, model.NewValidationError("プールの形式が不正です", err)
	}
	p, err := wire.toModel()
	if err != nil {
		return nil, model.NewValidationError("プールのレコードが不正です", err)
	}
	return &p, nil
}

func parseMembership(body []byte) (*model.Membership, error) {
	wire, err := decodeOne[wireMembership](body)
	if err != nil {
		return nil, model.NewValidationError("メンバーシップの形式が不正です", err)
	}
	m, err := wire.toModel()
	if err != nil {
		return nil, model.NewValidationError("メンバーシップのレコードが不正です", err)
	}
	return &m, nil
}

func parseUserPools(body []byte) ([]model.UserPool, error) {
	wire, err := decodeList[wireUserPool](body)
	if err != nil {
		return nil, model.NewValidationError("参加中プール一覧の形式が不正です", err)
	}
	out := make([]model.UserPool, 0, len(wire))
	for i := range wire {
		up, err := wire[i].toModel()
		if err != nil {
			return nil, model.NewValidationError("参加中プールのレコードが不正です", err)
		}
		out = append(out, up)
	}
	return out, nil
}

func parseService(body []byte) (*model.ServiceInfo, error) {
	wire, err := decodeOne[wireService](body)
	if err != nil {
		return nil, model.NewValidationError("サービス情報の形式が不正です", err)
	}
	s, err := wire.toModel()
	if err != nil {
		return nil, model.NewValidationError("サービス情報のレコードが不正です", err)
	}
	return &s, nil
}

func parseServices(body []byte) ([]model.ServiceInfo, error) {
	wire, err := decodeList[wireService](body)
	if err != nil {
		return nil, model.NewValidationError("サービス一覧の形式が不正です", err)
	}
	out := make([]model.ServiceInfo, 0, len(wire))
	for i := range wire {
		s, err := wire[i].toModel()
		if err != nil {
			return nil, model.NewValidationError("サービス情報のレコードが不正です", err)
		}
		out = append(out, s)
	}
	return out, nil
}
