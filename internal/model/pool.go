package model

import "time"

// ServiceInfo は共有可能なサブスクリプションサービスの表示用メタデータ。
// 外部APIが管理し、クライアントからは読み取り専用。
type ServiceInfo struct {
	ID          string
	Name        string
	LogoURL     string
	Color       string
	MonthlyCost float64
	MaxMembers  int
}

// Pool は1つのサブスクリプションサービスの費用を分担するグループ。
type Pool struct {
	ID             string
	OwnerUserID    string
	ServiceID      string
	Name           string
	SlotsTotal     int
	SlotsAvailable int
	// CostPerSlot は作成時に totalCost / slotsTotal として算出され保存された値。
	// 読み取り時に再計算しない。
	CostPerSlot float64
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsFull は空き枠がないかを返す。満員のプールは参加を拒否する。
func (p Pool) IsFull() bool {
	return p.SlotsAvailable == 0
}

// SlotsTaken は埋まっている枠数を返す。
func (p Pool) SlotsTaken() int {
	return p.SlotsTotal - p.SlotsAvailable
}

// State はサーバー応答から導出したプールの状態を返す。
func (p Pool) State() PoolState {
	switch {
	case !p.IsActive:
		return PoolStateRemoved
	case p.IsFull():
		return PoolStateFull
	default:
		return PoolStateListed
	}
}

// PoolState はクライアントから見たプールの状態。
// 遷移はすべてサーバー応答によって決まる。
type PoolState string

const (
	PoolStateUnknown PoolState = ""
	PoolStateListed  PoolState = "listed"
	PoolStateFull    PoolState = "full"
	PoolStateRemoved PoolState = "removed"
)

// MembershipStatus はメンバーシップの支払い状態。
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipPending MembershipStatus = "pending"
	MembershipOverdue MembershipStatus = "overdue"
)

// Valid は既知のステータスかどうかを返す。
func (s MembershipStatus) Valid() bool {
	switch s {
	case MembershipActive, MembershipPending, MembershipOverdue:
		return true
	default:
		return false
	}
}

// Membership はユーザーとプールの所属関係を表す。
type Membership struct {
	ID        string
	PoolID    string
	UserID    string
	IsPrimary bool // オーナー自身のメンバーシップのみtrue
	Status    MembershipStatus
}

// UserPool はログインユーザーが所属するプールとそのメンバーシップの組。
type UserPool struct {
	Pool       Pool
	Membership Membership
}
