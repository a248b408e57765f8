package utils_test

import (
	"testing"

	"github.com/digitax/fbr_backend/utils"
)

func TestEnsureRoundTripJSON(t *testing.T) {
	valid := [][]byte{
		[]byte(`{"a":1,"b":[true,null,"x"]}`),
		[]byte(`[]`),
		[]byte(`"just a string"`),
	}
	for _, payload := range valid {
		if err := utils.EnsureRoundTripJSON(payload); err != nil {
			t.Fatalf("valid payload rejected: %s: %v", payload, err)
		}
	}

	invalid := [][]byte{
		[]byte(`{"a":`),
		[]byte(`{'single': 'quotes'}`),
		[]byte(``),
	}
	for _, payload := range invalid {
		if err := utils.EnsureRoundTripJSON(payload); err == nil {
			t.Fatalf("malformed payload accepted: %s", payload)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	type payload struct {
		Name  string  `json:"name"`
		Count int     `json:"count"`
		Note  *string `json:"note"`
	}
	note := "hello"
	data, err := utils.MarshalRoundTrip(payload{Name: "x", Count: 3, Note: &note})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !utils.JSONEqual([]byte(data), []byte(`{"name":"x","count":3,"note":"hello"}`)) {
		t.Fatalf("unexpected serialized form: %s", data)
	}
}

func TestJSONEqual(t *testing.T) {
	if !utils.JSONEqual([]byte(`{"a":1,"b":2}`), []byte(`{ "b": 2, "a": 1 }`)) {
		t.Fatal("key order and whitespace must not matter")
	}
	if utils.JSONEqual([]byte(`{"a":1}`), []byte(`{"a":2}`)) {
		t.Fatal("different values must not compare equal")
	}
}

func TestNonNilString(t *testing.T) {
	empty := ""
	value := "x"
	if utils.NonNilString(nil) {
		t.Fatal("nil is null")
	}
	if utils.NonNilString(&empty) {
		t.Fatal("empty string is treated as null")
	}
	if !utils.NonNilString(&value) {
		t.Fatal("non-empty string is a value")
	}
}
