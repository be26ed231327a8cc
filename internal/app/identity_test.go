package app

import "testing"

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"btc", "BTC"},
		{"  eth ", "ETH"},
		{"btc/usdt", "BTCUSDT"},
		{"brk.b", "BRK.B"},
		{"zzz-notfound", "ZZZ-NOTFOUND"},
		{"pepe_2 🐸", "PEPE_2"},
		{"", ""},
		{"$$$", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestIdentity_Key(t *testing.T) {
	tests := []struct {
		id   Identity
		want string
	}{
		{Identity{}, ""},
		{Identity{ID: "BTC"}, "BTC"},
		{Identity{ID: "PEPE", Pair: "0xabc"}, "PEPE||0xabc"},
		{Identity{Pair: "0xabc"}, ""},
	}
	for _, tt := range tests {
		if got := tt.id.Key(); got != tt.want {
			t.Errorf("%+v.Key(): expected %q, got %q", tt.id, tt.want, got)
		}
	}
}

func TestIdentity_KeyChangesWithEitherHalf(t *testing.T) {
	a := NewIdentity("pepe", "0xabc")
	b := NewIdentity("pepe", "0xdef")
	c := NewIdentity("wif", "0xabc")

	if a.Key() == b.Key() || a.Key() == c.Key() {
		t.Errorf("expected distinct keys, got %s %s %s", a.Key(), b.Key(), c.Key())
	}
	if NewIdentity(" Pepe ", " 0xabc ").Key() != a.Key() {
		t.Error("expected equal normalized identities to share a key")
	}
}

func TestParseKey(t *testing.T) {
	for _, id := range []Identity{{ID: "BTC"}, {ID: "PEPE", Pair: "0xabc"}} {
		if got := ParseKey(id.Key()); got != id {
			t.Errorf("ParseKey(%q): expected %+v, got %+v", id.Key(), id, got)
		}
	}
}

func TestLikelySymbol(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"BTC", true},
		{"eth", true},
		{"BRK.B", true},
		{"ABCDEFGHIJKL", true},
		{"ABCDEFGHIJKLM", false},
		{"0x970e8128ab834e8eac17ab8e3812f010678cf791", false},
		{"has space", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := LikelySymbol(tt.in); got != tt.want {
			t.Errorf("LikelySymbol(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}
}
