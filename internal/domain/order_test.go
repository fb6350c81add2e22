package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from FillabilityStatus
		to   FillabilityStatus
		want bool
	}{
		{"fillable to no-balance", FillabilityFillable, FillabilityNoBalance, true},
		{"no-balance back to fillable", FillabilityNoBalance, FillabilityFillable, true},
		{"fillable to cancelled", FillabilityFillable, FillabilityCancelled, true},
		{"fillable to filled", FillabilityFillable, FillabilityFilled, true},
		{"fillable to expired", FillabilityFillable, FillabilityExpired, true},
		{"same status is a no-op", FillabilityFillable, FillabilityFillable, false},
		{"cancelled never leaves", FillabilityCancelled, FillabilityFillable, false},
		{"filled never leaves", FillabilityFilled, FillabilityFillable, false},
		{"expired never leaves", FillabilityExpired, FillabilityFillable, false},
		{"cancelled cannot become filled", FillabilityCancelled, FillabilityFilled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []FillabilityStatus{FillabilityCancelled, FillabilityFilled, FillabilityExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	recoverable := []FillabilityStatus{FillabilityFillable, FillabilityNoBalance}
	for _, s := range recoverable {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestOrderIsActive(t *testing.T) {
	tests := []struct {
		name        string
		fillability FillabilityStatus
		approval    ApprovalStatus
		want        bool
	}{
		{"fillable and approved", FillabilityFillable, ApprovalApproved, true},
		{"fillable without approval", FillabilityFillable, ApprovalNoApproval, false},
		{"no balance but approved", FillabilityNoBalance, ApprovalApproved, false},
		{"cancelled", FillabilityCancelled, ApprovalApproved, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Order{Fillability: tt.fillability, Approval: tt.approval}
			if got := o.IsActive(); got != tt.want {
				t.Fatalf("IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderIsOpen(t *testing.T) {
	if !(Order{Taker: ""}).IsOpen() {
		t.Fatal("empty taker should be open")
	}
	if !(Order{Taker: "0x0000000000000000000000000000000000000000"}).IsOpen() {
		t.Fatal("zero-address taker should be open")
	}
	if (Order{Taker: "0x00000000000000000000000000000000000000ff"}).IsOpen() {
		t.Fatal("restricted taker should not be open")
	}
}

func TestOrderIsExpired(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	if (Order{}).IsExpired(now) {
		t.Fatal("zero valid_until means no expiry")
	}
	if (Order{ValidUntil: now.Add(time.Hour)}).IsExpired(now) {
		t.Fatal("order still inside its validity window")
	}
	if !(Order{ValidUntil: now.Add(-time.Second)}).IsExpired(now) {
		t.Fatal("past valid_until should be expired")
	}
}

func TestOrderKindValid(t *testing.T) {
	for _, k := range []OrderKind{OrderKindSeaport, OrderKindZeroExV4, OrderKindLooksRare, OrderKindX2Y2} {
		if !k.Valid() {
			t.Fatalf("expected kind %q to be valid", k)
		}
	}
	if OrderKind("wyvern").Valid() {
		t.Fatal("unknown kind must not validate")
	}
}
