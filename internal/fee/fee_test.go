package fee

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestCompute_ShieldScenario(t *testing.T) {
	got := Compute(uint256.NewInt(10000), 25)
	if got.Uint64() != 25 {
		t.Errorf("fee(10000, 25): got %d want 25", got.Uint64())
	}
}

func TestCompute_Truncates(t *testing.T) {
	// 9975 * 25 / 10000 = 24.9375
	got := Compute(uint256.NewInt(9975), 25)
	if got.Uint64() != 24 {
		t.Errorf("fee(9975, 25): got %d want 24", got.Uint64())
	}
	if got := Compute(uint256.NewInt(100), 25); !got.IsZero() {
		t.Errorf("fee(100, 25): got %d want 0", got.Uint64())
	}
}

func TestCompute_OneUnitIsFree(t *testing.T) {
	for _, rate := range []uint64{1, 25, 1000, 9999} {
		if got := Compute(uint256.NewInt(1), rate); !got.IsZero() {
			t.Errorf("fee(1, %d): got %d want 0", rate, got.Uint64())
		}
	}
}

func TestCompute_NeverExceedsAmount(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	for _, amt := range []*uint256.Int{uint256.NewInt(1), uint256.NewInt(12345), max} {
		for _, rate := range []uint64{0, 1, 500, MaxRateBps} {
			if f := Compute(amt, rate); f.Gt(amt) {
				t.Errorf("fee(%s, %d) = %s exceeds amount", amt.Dec(), rate, f.Dec())
			}
		}
	}
}

func TestCompute_NoWrapOnLargeAmounts(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got := Compute(max, MaxRateBps)
	want := new(uint256.Int).Div(max, uint256.NewInt(10))
	if !got.Eq(want) {
		t.Errorf("fee(max, 1000): got %s want %s", got.Dec(), want.Dec())
	}
}

func TestCompute_Monotonic(t *testing.T) {
	prev := new(uint256.Int)
	for amt := uint64(0); amt < 50000; amt += 777 {
		f := Compute(uint256.NewInt(amt), 37)
		if f.Lt(prev) {
			t.Fatalf("fee decreased at amount %d", amt)
		}
		prev = f
	}
}

func TestNet(t *testing.T) {
	net, f := Net(uint256.NewInt(10000), 25)
	if net.Uint64() != 9975 || f.Uint64() != 25 {
		t.Errorf("Net: got (%d, %d) want (9975, 25)", net.Uint64(), f.Uint64())
	}
}

func TestSchedule_Validate(t *testing.T) {
	if err := (Schedule{ShieldBps: 25, UnshieldBps: MaxRateBps}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Schedule{ShieldBps: MaxRateBps + 1}).Validate(); !errors.Is(err, ErrFeeTooHigh) {
		t.Errorf("shield: want ErrFeeTooHigh, got %v", err)
	}
	if err := (Schedule{UnshieldBps: 10000}).Validate(); !errors.Is(err, ErrFeeTooHigh) {
		t.Errorf("unshield: want ErrFeeTooHigh, got %v", err)
	}
}
