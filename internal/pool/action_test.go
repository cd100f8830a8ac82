package pool

import (
	"errors"
	"testing"
)

func TestAction_SuccessPath(t *testing.T) {
	a := NewAction(KindJoin, "pool-1")
	if a.State != StateIdle {
		t.Fatalf("initial state = %s, want idle", a.State)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.State != StateLoading {
		t.Errorf("state = %s, want loading", a.State)
	}
	if err := a.Succeed(); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	if a.State != StateSuccess || !a.Done() {
		t.Errorf("state = %s, want success and done", a.State)
	}
}

func TestAction_ErrorAndRetry(t *testing.T) {
	cause := errors.New("upstream down")
	a := NewAction(KindLeave, "pool-1")
	a.Start()
	if err := a.Fail(cause); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if a.State != StateError || !errors.Is(a.Err, cause) {
		t.Errorf("state = %s err = %v", a.State, a.Err)
	}

	if err := a.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if a.State != StateIdle || a.Err != nil {
		t.Errorf("after retry state = %s err = %v, want idle and nil", a.State, a.Err)
	}
	if err := a.Start(); err != nil {
		t.Errorf("Start after retry: %v", err)
	}
}

func TestAction_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(a *Action)
		step  func(a *Action) error
	}{
		{"succeed from idle", func(*Action) {}, (*Action).Succeed},
		{"fail from idle", func(*Action) {}, func(a *Action) error { return a.Fail(errors.New("x")) }},
		{"retry from idle", func(*Action) {}, (*Action).Retry},
		{"start twice", func(a *Action) { a.Start() }, (*Action).Start},
		{"retry from success", func(a *Action) { a.Start(); a.Succeed() }, (*Action).Retry},
		{"start from error", func(a *Action) { a.Start(); a.Fail(errors.New("x")) }, (*Action).Start},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAction(KindCreate, "")
			tt.setup(a)
			before := a.State
			err := tt.step(a)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("err = %v, want ErrInvalidTransition", err)
			}
			if a.State != before {
				t.Errorf("state changed from %s to %s", before, a.State)
			}
		})
	}
}
