package main

import (
	"strings"
	"testing"
)

func TestParseMembers(t *testing.T) {
	in := "id,name,email,phone\n" +
		"m-1, Anna Schmidt, anna@example.com, +49 170 1234567\n" +
		"m-2,Ben Weber,,0170 7654321\n"

	members, err := parseMembers(strings.NewReader(in), "t1", "49")
	if err != nil {
		t.Fatalf("parseMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members", len(members))
	}
	a := members[0]
	if a.ID != "m-1" || a.TenantID != "t1" || a.Name != "Anna Schmidt" || a.Email != "anna@example.com" {
		t.Fatalf("first member = %+v", a)
	}
	if a.PhoneKey != "1701234567" {
		t.Fatalf("phone key = %q", a.PhoneKey)
	}
	if members[1].PhoneKey != "1707654321" {
		t.Fatalf("second phone key = %q", members[1].PhoneKey)
	}
}

func TestParseMembers_Errors(t *testing.T) {
	cases := map[string]string{
		"wrong column count": "m-1,Anna,anna@example.com\n",
		"empty id":           ",Anna,anna@example.com,0170 1234567\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parseMembers(strings.NewReader(in), "t1", "49"); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
