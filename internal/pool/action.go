// Package pool はビュー層から呼ばれるプール操作のオーケストレーションを提供する。
package pool

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition は許可されていない状態遷移を要求した場合に返る。
var ErrInvalidTransition = errors.New("invalid action state transition")

// ActionState は変更操作の進行状態。
type ActionState string

const (
	StateIdle    ActionState = "idle"
	StateLoading ActionState = "loading"
	StateSuccess ActionState = "success"
	StateError   ActionState = "error"
)

// ActionKind は変更操作の種類。
type ActionKind string

const (
	KindCreate ActionKind = "create"
	KindJoin   ActionKind = "join"
	KindLeave  ActionKind = "leave"
)

// Action は1回の変更操作の状態機械。
// idle → loading → success | error と進み、error からは Retry で idle に戻る。
// 1つのリクエスト内でのみ使い、ゴルーチン間で共有しない。
type Action struct {
	Kind   ActionKind
	PoolID string
	State  ActionState
	Err    error
}

// NewAction はidle状態のActionを生成する。
func NewAction(kind ActionKind, poolID string) *Action {
	return &Action{Kind: kind, PoolID: poolID, State: StateIdle}
}

// Start は idle → loading に遷移する。
func (a *Action) Start() error {
	if err := a.transition(StateIdle, StateLoading); err != nil {
		return err
	}
	a.Err = nil
	return nil
}

// Succeed は loading → success に遷移する。
func (a *Action) Succeed() error {
	return a.transition(StateLoading, StateSuccess)
}

// Fail は loading → error に遷移し、原因を保持する。
func (a *Action) Fail(cause error) error {
	if err := a.transition(StateLoading, StateError); err != nil {
		return err
	}
	a.Err = cause
	return nil
}

// Retry は error → idle に戻す。
func (a *Action) Retry() error {
	if err := a.transition(StateError, StateIdle); err != nil {
		return err
	}
	a.Err = nil
	return nil
}

// Done は操作が終端状態かどうかを返す。
func (a *Action) Done() bool {
	return a.State == StateSuccess || a.State == StateError
}

func (a *Action) transition(from, to ActionState) error {
	if a.State != from {
		return fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, a.State)
	}
	a.State = to
	return nil
}
