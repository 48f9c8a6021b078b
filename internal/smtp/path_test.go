package smtp

import (
	"testing"

	"github.com/infodancer/mailserv/internal/spool"
)

func TestParsePathSimple(t *testing.T) {
	addr, isNull, ok := ParsePath("<alice@example.com>")
	if !ok || isNull {
		t.Fatalf("ok=%v isNull=%v", ok, isNull)
	}
	if addr != (spool.Address{Local: "alice", Domain: "example.com"}) {
		t.Errorf("addr = %+v", addr)
	}
}

func TestParsePathNullReversePath(t *testing.T) {
	addr, isNull, ok := ParsePath("<>")
	if !ok || !isNull {
		t.Fatalf("ok=%v isNull=%v", ok, isNull)
	}
	if addr != (spool.Address{}) {
		t.Errorf("addr = %+v, want zero value", addr)
	}
}

func TestParsePathSourceRouteStripped(t *testing.T) {
	addr, _, ok := ParsePath("<@relay1.example,@relay2.example:bob@example.com>")
	if !ok {
		t.Fatal("expected source-routed path to parse")
	}
	if addr != (spool.Address{Local: "bob", Domain: "example.com"}) {
		t.Errorf("addr = %+v", addr)
	}
}

func TestParsePathQuotedLocalPart(t *testing.T) {
	addr, _, ok := ParsePath("<\"weird user\"@example.com>")
	if !ok {
		t.Fatal("expected quoted local-part to parse")
	}
	if addr.Local != "\"weird user\"" || addr.Domain != "example.com" {
		t.Errorf("addr = %+v", addr)
	}
}

func TestParsePathIPv4Literal(t *testing.T) {
	addr, _, ok := ParsePath("<bob@192.168.1.5>")
	if !ok {
		t.Fatal("expected IPv4 domain literal to parse")
	}
	if addr.Domain != "192.168.1.5" {
		t.Errorf("addr = %+v", addr)
	}
}

func TestParsePathRejectsMissingBrackets(t *testing.T) {
	if _, _, ok := ParsePath("bob@example.com"); ok {
		t.Fatal("expected path without angle brackets to be rejected")
	}
}

func TestParsePathRejectsDoubleDot(t *testing.T) {
	if _, _, ok := ParsePath("<bo..b@example.com>"); ok {
		t.Fatal("expected local-part with consecutive dots to be rejected")
	}
}

func TestParsePathRejectsEmptyDomainLabel(t *testing.T) {
	if _, _, ok := ParsePath("<bob@example..com>"); ok {
		t.Fatal("expected domain with empty label to be rejected")
	}
}

func TestParsePathRejectsNoAtSign(t *testing.T) {
	if _, _, ok := ParsePath("<bobexample.com>"); ok {
		t.Fatal("expected path with no @ to be rejected")
	}
}
