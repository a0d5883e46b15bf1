package pair

import "testing"

func TestSlashCodecRoundTrip(t *testing.T) {
	codec := SlashCodec{}
	p := Pair{Base: "aapl", Quote: "usd"}
	symbol := codec.Encode(p)
	if symbol != "AAPL/USD" {
		t.Fatalf("unexpected encoding %q", symbol)
	}
	decoded, ok := codec.Decode(symbol)
	if !ok {
		t.Fatalf("expected %q to decode", symbol)
	}
	if decoded != (Pair{Base: "AAPL", Quote: "USD"}) {
		t.Fatalf("unexpected decoded pair %+v", decoded)
	}
	if !decoded.Equal(p) {
		t.Fatalf("decoded pair should equal the original ignoring case")
	}
}

func TestSlashCodecRejectsMalformed(t *testing.T) {
	codec := SlashCodec{}
	for _, symbol := range []string{"", "AAPL", "AAPL//USD", "AAPL/USD/USD", "/USD", "AAPL/"} {
		if p, ok := codec.Decode(symbol); ok {
			t.Fatalf("expected %q to be rejected, got %+v", symbol, p)
		}
	}
}

func TestConcatCodecUppercases(t *testing.T) {
	if got := (ConcatCodec{}).Encode(Pair{Base: "eur", Quote: "Usd"}); got != "EURUSD" {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func TestReverseKeyLowercases(t *testing.T) {
	if got := ReverseKey(" EURUSD "); got != "eurusd" {
		t.Fatalf("unexpected reverse key %q", got)
	}
}

func TestPairHelpers(t *testing.T) {
	p := New(" XAU ", "USD")
	if p.Base != "XAU" {
		t.Fatalf("expected trimmed base, got %q", p.Base)
	}
	if p.Inverse() != (Pair{Base: "USD", Quote: "XAU"}) {
		t.Fatalf("unexpected inverse %+v", p.Inverse())
	}
	if p.String() != "XAU/USD" {
		t.Fatalf("unexpected string %q", p.String())
	}
	if (Pair{Base: "XAU"}).Valid() {
		t.Fatalf("pair without quote must be invalid")
	}
}
