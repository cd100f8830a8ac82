package pool

import (
	"context"
	"log/slog"

	"github.com/hitoshi/subshare/internal/metrics"
	"github.com/hitoshi/subshare/internal/model"
	"github.com/hitoshi/subshare/internal/poolclient"
	"github.com/hitoshi/subshare/internal/pricing"
)

const (
	maxNameRunes        = 80
	maxDescriptionRunes = 500
)

// Client はServiceが利用する外部プールAPIの操作。
// poolclient.Clientが満たす。
type Client interface {
	ListPools(ctx context.Context) ([]model.Pool, error)
	CreatePool(ctx context.Context, in poolclient.CreatePoolInput) (*model.Pool, error)
	JoinPool(ctx context.Context, poolID string) error
	LeavePool(ctx context.Context, poolID string) error
	ListUserPools(ctx context.Context) ([]model.UserPool, error)
	GetServiceInfo(ctx context.Context, serviceID string) model.ServiceInfo
}

var _ Client = (*poolclient.Client)(nil)

// Sanitizer はユーザー入力のテキストからマークアップを除去する。
type Sanitizer interface {
	Clean(raw string, maxRunes int) string
}

// PoolView は表示用にサービス情報と状態を付加したプール。
type PoolView struct {
	Pool     model.Pool
	Service  model.ServiceInfo
	State    model.PoolState
	IsOwner  bool
	IsMember bool
}

// MyPoolView はログインユーザーが所属するプールの表示用データ。
type MyPoolView struct {
	PoolView
	Membership model.Membership
}

// Dashboard はダッシュボードのプール画面に必要なデータ。
// 取得に失敗した一覧は空になり、Degradedがtrueになる。
type Dashboard struct {
	Pools    []PoolView
	MyPools  []MyPoolView
	Degraded bool
}

// Outcome は変更操作の結果。操作後に取得し直したプール一覧を含む。
type Outcome struct {
	Action *Action
	Pools  []PoolView
}

// CreateInput はプール作成の入力。
// CostPerSlotが0の場合、TotalCost（省略時はサービスの月額）を枠数で割って求める。
type CreateInput struct {
	ServiceID            string
	Name                 string
	Description          string
	EncryptedCredentials string // 暗号化済みの不透明な値
	SlotsTotal           int
	TotalCost            float64
	CostPerSlot          float64
}

// Service はプール一覧の取得と参加・退出・作成の操作を提供する。
// 変更操作の後は必ずサーバーから一覧を取得し直し、手元で枠数を増減しない。
type Service struct {
	client    Client
	sanitizer Sanitizer
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(client Client, sanitizer Sanitizer, logger *slog.Logger, m metrics.MetricsCollector) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Service{client: client, sanitizer: sanitizer, logger: logger, metrics: m}
}

// Pools は全プールを返す。取得に失敗した場合はログに記録して空の一覧を返す。
// 所属情報が取れない場合はIsMemberをすべてfalseにする。
func (s *Service) Pools(ctx context.Context, userID string) []PoolView {
	pools, err := s.client.ListPools(ctx)
	if err != nil {
		s.logger.Warn("failed to list pools", slog.String("error", err.Error()))
		return []PoolView{}
	}
	return s.views(ctx, pools, userID, s.memberships(ctx))
}

// memberships は所属プールのID集合を返す。
func (s *Service) memberships(ctx context.Context) map[string]bool {
	userPools, err := s.client.ListUserPools(ctx)
	if err != nil {
		s.logger.Warn("failed to list user pools", slog.String("error", err.Error()))
		return map[string]bool{}
	}
	memberOf := make(map[string]bool, len(userPools))
	for _, up := range userPools {
		memberOf[up.Pool.ID] = true
	}
	return memberOf
}

// MyPools はログインユーザーが所属するプールを返す。
func (s *Service) MyPools(ctx context.Context) ([]MyPoolView, error) {
	userPools, err := s.client.ListUserPools(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]MyPoolView, 0, len(userPools))
	for _, up := range userPools {
		views = append(views, MyPoolView{
			PoolView: PoolView{
				Pool:     up.Pool,
				Service:  s.client.GetServiceInfo(ctx, up.Pool.ServiceID),
				State:    up.Pool.State(),
				IsOwner:  up.Membership.IsPrimary,
				IsMember: true,
			},
			Membership: up.Membership,
		})
	}
	return views, nil
}

// Dashboard は全プールと所属プールをまとめて返す。
// どちらかの取得に失敗しても画面は表示できるよう、エラーにはしない。
func (s *Service) Dashboard(ctx context.Context, userID string) *Dashboard {
	d := &Dashboard{Pools: []PoolView{}, MyPools: []MyPoolView{}}

	mine, err := s.MyPools(ctx)
	if err != nil {
		s.logger.Warn("failed to list user pools", slog.String("error", err.Error()))
		d.Degraded = true
	} else {
		d.MyPools = mine
	}

	pools, err := s.client.ListPools(ctx)
	if err != nil {
		s.logger.Warn("failed to list pools", slog.String("error", err.Error()))
		d.Degraded = true
		return d
	}

	memberOf := make(map[string]bool, len(mine))
	for _, mp := range mine {
		memberOf[mp.Pool.ID] = true
	}
	d.Pools = s.views(ctx, pools, userID, memberOf)
	return d
}

// Join はプールに参加する。
func (s *Service) Join(ctx context.Context, userID, poolID string) (*Outcome, error) {
	return s.run(ctx, NewAction(KindJoin, poolID), userID, func() error {
		return s.client.JoinPool(ctx, poolID)
	})
}

// Leave はプールから退出する。返金は行われない。
func (s *Service) Leave(ctx context.Context, userID, poolID string) (*Outcome, error) {
	return s.run(ctx, NewAction(KindLeave, poolID), userID, func() error {
		return s.client.LeavePool(ctx, poolID)
	})
}

// Create はプールを作成する。名前と説明文はマークアップを除去してから送信する。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*Outcome, error) {
	action := NewAction(KindCreate, "")
	return s.run(ctx, action, userID, func() error {
		req, err := s.createRequest(ctx, in)
		if err != nil {
			return err
		}
		created, err := s.client.CreatePool(ctx, req)
		if err != nil {
			return err
		}
		action.PoolID = created.ID
		return nil
	})
}

func (s *Service) createRequest(ctx context.Context, in CreateInput) (poolclient.CreatePoolInput, error) {
	if in.ServiceID == "" {
		return poolclient.CreatePoolInput{}, model.NewValidationError("サービスを指定してください", nil)
	}

	name := s.sanitizer.Clean(in.Name, maxNameRunes)
	costPerSlot := in.CostPerSlot
	if name == "" || costPerSlot == 0 {
		service := s.client.GetServiceInfo(ctx, in.ServiceID)
		if name == "" {
			name = service.Name
		}
		if costPerSlot == 0 && in.SlotsTotal > 0 {
			total := in.TotalCost
			if total == 0 {
				total = service.MonthlyCost
			}
			costPerSlot = pricing.Calculate(pricing.Input{
				UnitPrice: total,
				GroupSize: in.SlotsTotal,
				Billing:   model.BillingMonthly,
			}).CostPerMember
		}
	}

	return poolclient.CreatePoolInput{
		ServiceID:            in.ServiceID,
		Name:                 name,
		Description:          s.sanitizer.Clean(in.Description, maxDescriptionRunes),
		EncryptedCredentials: in.EncryptedCredentials,
		SlotsTotal:           in.SlotsTotal,
		CostPerSlot:          costPerSlot,
	}, nil
}

// run はActionを進めながら操作を実行し、成否にかかわらず一覧を取得し直す。
func (s *Service) run(ctx context.Context, action *Action, userID string, op func() error) (*Outcome, error) {
	if err := action.Start(); err != nil {
		return nil, err
	}

	opErr := op()
	if opErr != nil {
		_ = action.Fail(opErr)
		s.metrics.RecordPoolAction(string(action.Kind), "error")
		s.logger.Info("pool action failed",
			slog.String("action", string(action.Kind)),
			slog.String("pool_id", action.PoolID),
			slog.String("error", opErr.Error()),
		)
	} else {
		_ = action.Succeed()
		s.metrics.RecordPoolAction(string(action.Kind), "success")
	}

	return &Outcome{Action: action, Pools: s.Pools(ctx, userID)}, opErr
}

func (s *Service) views(ctx context.Context, pools []model.Pool, userID string, memberOf map[string]bool) []PoolView {
	views := make([]PoolView, 0, len(pools))
	for _, p := range pools {
		views = append(views, PoolView{
			Pool:     p,
			Service:  s.client.GetServiceInfo(ctx, p.ServiceID),
			State:    p.State(),
			IsOwner:  userID != "" && p.OwnerUserID == userID,
			IsMember: memberOf[p.ID],
		})
	}
	return views
}
