package normalize

import "testing"

func TestDomain(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "https://sub.prod.example.co.uk/path", want: "example.co.uk"},
		{in: "mail.example.com", want: "example.com"},
		{in: "*.Example.COM.", want: "example.com"},
		{in: "10.0.0.1", want: ""},
		{in: "", want: ""},
		{in: "localhost", want: "localhost"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			if got := Domain(tc.in); got != tc.want {
				t.Fatalf("Domain(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSameOrganization(t *testing.T) {
	t.Parallel()

	if !SameOrganization("alice@eng.example.com", "Bob@example.com") {
		t.Fatal("subdomain addresses should match")
	}
	if SameOrganization("alice@example.com", "mallory@example.org") {
		t.Fatal("different domains matched")
	}
	if SameOrganization("alice", "bob") {
		t.Fatal("addresses without domains matched")
	}
}

func TestAddress(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in        string
		wantName  string
		wantEmail string
	}{
		{in: `"Weekly Deals" <Deals@Shop.example>`, wantName: "Weekly Deals", wantEmail: "deals@shop.example"},
		{in: "news@example.com", wantEmail: "news@example.com"},
		{in: "Broken Name, Inc <ops@example.com>", wantName: "Broken Name, Inc", wantEmail: "ops@example.com"},
		{in: "", wantName: "", wantEmail: ""},
	}
	for _, tc := range cases {
		name, email := Address(tc.in)
		if name != tc.wantName || email != tc.wantEmail {
			t.Fatalf("Address(%q) = (%q, %q), want (%q, %q)", tc.in, name, email, tc.wantName, tc.wantEmail)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	t.Parallel()

	if got := FirstNonEmpty("", "  ", " b ", "c"); got != "b" {
		t.Fatalf("FirstNonEmpty() = %q, want b", got)
	}
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("FirstNonEmpty() = %q, want empty", got)
	}
}
