package evm

import (
	"context"
	"errors"
	"testing"
)

func TestRotate(t *testing.T) {
	var order []int
	mk := func(i int, err error) DialFunc {
		return func(ctx context.Context) (Client, error) {
			order = append(order, i)
			if err != nil {
				return nil, err
			}
			return &fakeClient{}, nil
		}
	}

	dial := Rotate(mk(0, nil), mk(1, errConnReset), mk(2, nil))
	for range 3 {
		if _, err := dial(context.Background()); err != nil {
			t.Fatalf("dial: %v", err)
		}
	}

	// 0, then 1 fails and falls through to 2, then back to 0.
	want := []int{0, 1, 2, 0}
	if len(order) != len(want) {
		t.Fatalf("expected dial order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected dial order %v, got %v", want, order)
		}
	}
}

func TestRotate_AllFail(t *testing.T) {
	down := errors.New("dial tcp: connection refused")
	fail := func(ctx context.Context) (Client, error) { return nil, down }

	if _, err := Rotate(fail, fail)(context.Background()); !errors.Is(err, down) {
		t.Errorf("expected joined dial errors, got %v", err)
	}
	if _, err := Rotate()(context.Background()); err == nil {
		t.Error("expected error without endpoints")
	}
}
