package formula

import (
	"reflect"
	"testing"
)

func TestParse_QualifiedRefs(t *testing.T) {
	p := Parse("orders.net_amount - bank.settled_amount")
	wantRefs := []FieldRef{
		{Collection: "orders", Field: "net_amount"},
		{Collection: "bank", Field: "settled_amount"},
	}
	if !reflect.DeepEqual(p.Refs, wantRefs) {
		t.Errorf("Refs = %v, want %v", p.Refs, wantRefs)
	}
	if !reflect.DeepEqual(p.Collections, []string{"orders", "bank"}) {
		t.Errorf("Collections = %v, want [orders bank]", p.Collections)
	}
	if p.Primary() != "orders" {
		t.Errorf("Primary = %q, want orders", p.Primary())
	}
}

func TestParse_CollectionsLowercasedFirstOccurrence(t *testing.T) {
	p := Parse("Orders.a + BANK.b + orders.c")
	if !reflect.DeepEqual(p.Collections, []string{"orders", "bank"}) {
		t.Errorf("Collections = %v, want [orders bank]", p.Collections)
	}
}

func TestParse_NumericLiteralIsNotARef(t *testing.T) {
	// 0.05 must never parse as collection "0", field "05".
	p := Parse("orders.amount * 0.05")
	if len(p.Refs) != 1 || p.Refs[0].Collection != "orders" {
		t.Errorf("Refs = %v, want single orders.amount", p.Refs)
	}
	if len(p.DerivedRefs) != 0 {
		t.Errorf("DerivedRefs = %v, want none", p.DerivedRefs)
	}
}

func TestParse_DerivedRefs(t *testing.T) {
	p := Parse("GROSS_AMT - FEE_AMT - FEE_AMT")
	if !reflect.DeepEqual(p.DerivedRefs, []string{"GROSS_AMT", "FEE_AMT"}) {
		t.Errorf("DerivedRefs = %v, want [GROSS_AMT FEE_AMT] deduplicated", p.DerivedRefs)
	}
	if len(p.Refs) != 0 {
		t.Errorf("Refs = %v, want none", p.Refs)
	}
}

func TestParse_DerivedRefMinimumLength(t *testing.T) {
	// Two-character uppercase identifiers are not derived references.
	p := Parse("AB + ABC")
	if !reflect.DeepEqual(p.DerivedRefs, []string{"ABC"}) {
		t.Errorf("DerivedRefs = %v, want [ABC]", p.DerivedRefs)
	}
}

func TestParse_UppercaseQualifiedNotDerived(t *testing.T) {
	// ORDERS.AMT is a qualified reference; neither half is a derived ref.
	p := Parse("ORDERS.AMT + NET_TOTAL")
	if !reflect.DeepEqual(p.DerivedRefs, []string{"NET_TOTAL"}) {
		t.Errorf("DerivedRefs = %v, want [NET_TOTAL]", p.DerivedRefs)
	}
	if len(p.Refs) != 1 || p.Refs[0] != (FieldRef{Collection: "orders", Field: "amt"}) {
		t.Errorf("Refs = %v, want orders.amt", p.Refs)
	}
}

func TestParse_References(t *testing.T) {
	p := Parse("orders.amount + bank.amount")
	if !p.References("Orders") {
		t.Error("References(Orders) = false, want true")
	}
	if p.References("ledger") {
		t.Error("References(ledger) = true, want false")
	}
}

func TestParse_NoRefs(t *testing.T) {
	p := Parse("1 + 2 * 3")
	if len(p.Refs) != 0 || len(p.DerivedRefs) != 0 || p.Primary() != "" {
		t.Errorf("pure literal expression parsed refs: %+v", p)
	}
}
