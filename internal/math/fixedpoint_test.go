package math

import "testing"

func TestComputeSizeExact(t *testing.T) {
	// 10 USD collateral at 2x
	got := ComputeSize(10_000_000, 2)
	want := int64(20_000_000)
	if got != want {
		t.Errorf("ComputeSize(10e6, 2) = %d, want %d", got, want)
	}
}

func TestComputeFee(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		feeBP  int64
		want   int64
	}{
		{"zero fee", 10_000_000, 0, 0},
		{"10bp on 10 USD", 10_000_000, 10, 10_000},
		{"50bp on 10 USD", 10_000_000, 50, 50_000},
		{"max 1000bp", 10_000_000, 1000, 1_000_000},
		{"rounds half to even", 25, 200, 0}, // 25*200/10000 = 0.5 -> 0
		{"rounds half to even up", 75, 200, 2}, // 75*200/10000 = 1.5 -> 2
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeFee(tt.amount, tt.feeBP)
			if got != tt.want {
				t.Errorf("ComputeFee(%d, %d) = %d, want %d", tt.amount, tt.feeBP, got, tt.want)
			}
		})
	}
}

func TestComputeLiquidationPrices(t *testing.T) {
	// Entry 50,000, 2x leverage, 20% maintenance margin:
	// delta = 50000 * 0.8 / 2 = 20000
	entry := int64(50_000 * 100_000_000)
	long, short := ComputeLiquidationPrices(entry, 2, 2000)

	wantLong := int64(30_000 * 100_000_000)
	wantShort := int64(70_000 * 100_000_000)
	if long != wantLong {
		t.Errorf("long threshold = %d, want %d", long, wantLong)
	}
	if short != wantShort {
		t.Errorf("short threshold = %d, want %d", short, wantShort)
	}

	// Orientation: long threshold strictly below entry, short strictly above
	if long >= entry {
		t.Errorf("long threshold %d not below entry %d", long, entry)
	}
	if short <= entry {
		t.Errorf("short threshold %d not above entry %d", short, entry)
	}
}

func TestComputeLiquidationPricesHighLeverage(t *testing.T) {
	entry := int64(2_000 * 100_000_000)
	long, short := ComputeLiquidationPrices(entry, 50, 2000)

	// delta = 2000 * 0.8 / 50 = 32
	wantLong := int64(1_968 * 100_000_000)
	wantShort := int64(2_032 * 100_000_000)
	if long != wantLong || short != wantShort {
		t.Errorf("thresholds = (%d, %d), want (%d, %d)", long, short, wantLong, wantShort)
	}
}

func TestComputeClosePnL(t *testing.T) {
	entry := int64(50_000 * 100_000_000)
	size := int64(20_000_000) // 20 USD notional

	tests := []struct {
		name     string
		sideSign int64
		exit     int64
		want     int64
	}{
		{"long profit", 1, 52_000 * 100_000_000, 800_000},
		{"long loss", 1, 48_000 * 100_000_000, -800_000},
		{"short profit", -1, 48_000 * 100_000_000, 800_000},
		{"short loss", -1, 52_000 * 100_000_000, -800_000},
		{"flat", 1, entry, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeClosePnL(tt.sideSign, entry, tt.exit, size)
			if got != tt.want {
				t.Errorf("ComputeClosePnL(%d, entry, %d, %d) = %d, want %d",
					tt.sideSign, tt.exit, size, got, tt.want)
			}
		})
	}
}

func TestComputeDeviationBP(t *testing.T) {
	tests := []struct {
		name    string
		current int64
		next    int64
		want    int64
	}{
		{"no move", 50_000, 50_000, 0},
		{"1 percent up", 50_000, 50_500, 100},
		{"1 percent down", 50_000, 49_500, 100},
		{"rounds up", 10_000, 10_001, 1},
		{"no reference", 0, 50_000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDeviationBP(tt.current, tt.next)
			if got != tt.want {
				t.Errorf("ComputeDeviationBP(%d, %d) = %d, want %d", tt.current, tt.next, got, tt.want)
			}
		})
	}
}

func TestClampPayout(t *testing.T) {
	tests := []struct {
		name       string
		collateral int64
		pnl        int64
		fee        int64
		want       int64
	}{
		{"profit", 10_000_000, 800_000, 10_800, 10_789_200},
		{"loss within collateral", 10_000_000, -800_000, 9_200, 9_190_800},
		{"loss exceeds collateral", 10_000_000, -11_000_000, 0, 0},
		{"fee pushes below zero", 1_000, -900, 200, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampPayout(tt.collateral, tt.pnl, tt.fee)
			if got != tt.want {
				t.Errorf("ClampPayout(%d, %d, %d) = %d, want %d",
					tt.collateral, tt.pnl, tt.fee, got, tt.want)
			}
		})
	}
}

func TestDivideInt128Rounding(t *testing.T) {
	tests := []struct {
		name  string
		num   int64
		denom int64
		mode  RoundingMode
		want  int64
	}{
		{"half to even down", 5, 10, RoundHalfEven, 0},
		{"half to even up", 15, 10, RoundHalfEven, 2},
		{"above half", 6, 10, RoundHalfEven, 1},
		{"negative half to even", -5, 10, RoundHalfEven, 0},
		{"negative above half", -6, 10, RoundHalfEven, -1},
		{"round down", 9, 10, RoundDown, 0},
		{"round up", 1, 10, RoundUp, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := MultiplyInt128(tt.num, 1)
			got := DivideInt128(raw, tt.denom, tt.mode)
			if got != tt.want {
				t.Errorf("DivideInt128(%d, %d, %v) = %d, want %d", tt.num, tt.denom, tt.mode, got, tt.want)
			}
		})
	}
}
