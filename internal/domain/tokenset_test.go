package domain

import (
	"strings"
	"testing"
)

func TestSingleTokenSetID(t *testing.T) {
	got := SingleTokenSetID("0xABCDEF0123456789abcdef0123456789ABCDEF01", "42")
	want := "token:0xabcdef0123456789abcdef0123456789abcdef01:42"
	if got != want {
		t.Fatalf("SingleTokenSetID = %q, want %q", got, want)
	}
}

func TestParseSingleTokenSetID(t *testing.T) {
	tests := []struct {
		id       string
		contract string
		tokenID  string
		ok       bool
	}{
		{"token:0xabc:42", "0xabc", "42", true},
		{"contract:0xabc", "", "", false},
		{"range:0xabc:1:10", "", "", false},
		{"token:0xabc", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		contract, tokenID, ok := ParseSingleTokenSetID(tt.id)
		if ok != tt.ok || contract != tt.contract || tokenID != tt.tokenID {
			t.Fatalf("ParseSingleTokenSetID(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.id, contract, tokenID, ok, tt.contract, tt.tokenID, tt.ok)
		}
	}
}

func TestTokenSetContract(t *testing.T) {
	tests := []struct {
		id       string
		contract string
		ok       bool
	}{
		{"token:0xabc:42", "0xabc", true},
		{"contract:0xabc", "0xabc", true},
		{"range:0xabc:1:10", "0xabc", true},
		{"list:0xabc:0xdeadbeef", "0xabc", true},
		{"token:", "", false},
		{"bogus:0xabc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		contract, ok := OwningContract(tt.id)
		if ok != tt.ok || contract != tt.contract {
			t.Fatalf("OwningContract(%q) = (%q, %v), want (%q, %v)",
				tt.id, contract, ok, tt.contract, tt.ok)
		}
	}
}

func TestListTokenSetIDIsOrderInsensitive(t *testing.T) {
	a := ListTokenSetID("0xAbC", []string{"3", "1", "2"})
	b := ListTokenSetID("0xabc", []string{"1", "2", "3"})
	if a != b {
		t.Fatalf("same list in different order produced different ids: %q vs %q", a, b)
	}

	c := ListTokenSetID("0xabc", []string{"1", "2"})
	if a == c {
		t.Fatal("different lists must not collide")
	}
	if !strings.HasPrefix(a, "list:0xabc:0x") {
		t.Fatalf("unexpected list id shape: %q", a)
	}
}

func TestListTokenSetIDDelimiterSafety(t *testing.T) {
	// The content hash must separate ids so ["ab","c"] and ["a","bc"] differ.
	a := ListTokenSetID("0xabc", []string{"ab", "c"})
	b := ListTokenSetID("0xabc", []string{"a", "bc"})
	if a == b {
		t.Fatal("concatenation-ambiguous lists collided")
	}
}

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name    string
		ts      TokenSet
		want    string
		wantErr bool
	}{
		{
			name: "single",
			ts:   TokenSet{Kind: TokenSetSingle, Contract: "0xAbc", TokenID: "7"},
			want: "token:0xabc:7",
		},
		{
			name: "contract",
			ts:   TokenSet{Kind: TokenSetContract, Contract: "0xAbc"},
			want: "contract:0xabc",
		},
		{
			name: "range",
			ts:   TokenSet{Kind: TokenSetRange, Contract: "0xabc", FromTokenID: "1", ToTokenID: "100"},
			want: "range:0xabc:1:100",
		},
		{
			name:    "single missing token id",
			ts:      TokenSet{Kind: TokenSetSingle, Contract: "0xabc"},
			wantErr: true,
		},
		{
			name:    "range missing bound",
			ts:      TokenSet{Kind: TokenSetRange, Contract: "0xabc", FromTokenID: "1"},
			wantErr: true,
		},
		{
			name:    "empty list",
			ts:      TokenSet{Kind: TokenSetList, Contract: "0xabc"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			ts:      TokenSet{Kind: TokenSetKind("bundle"), Contract: "0xabc"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.ts.CanonicalID()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got id %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CanonicalID: %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanonicalID = %q, want %q", got, tt.want)
			}
		})
	}
}
