package serf

import (
	"reflect"
	"testing"
)

func TestEncodeMessage_RoundTrip(t *testing.T) {
	in := &messageQuery{LTime: 5, ID: 42, Name: "ping", Payload: []byte("hi")}
	raw, err := encodeMessage(messageQueryType, in)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if messageType(raw[0]) != messageQueryType {
		t.Fatalf("should have type header")
	}

	var out messageQuery
	if err := decodeMessage(raw[1:], &out); err != nil {
		t.Fatalf("err: %s", err)
	}
	if !reflect.DeepEqual(in, &out) {
		t.Fatalf("mismatch: %#v vs %#v", in, &out)
	}
}

func TestEncodeFilter_Tag(t *testing.T) {
	in := filterTag{Tag: "role", Expr: "^web$"}
	raw, err := encodeFilter(filterTagType, in)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if filterType(raw[0]) != filterTagType {
		t.Fatalf("should have type header")
	}

	var out filterTag
	if err := decodeFilter(raw[1:], &out); err != nil {
		t.Fatalf("err: %s", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("mismatch: %#v vs %#v", in, out)
	}
}

func TestQueryParam_EncodeFilters(t *testing.T) {
	q := &QueryParam{
		FilterNodes: []string{"a", "b"},
		FilterTags:  map[string]string{"role": "web"},
	}
	filters, err := q.encodeFilters()
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if len(filters) != 2 {
		t.Fatalf("expected one filter per populated field, got %d", len(filters))
	}
}
