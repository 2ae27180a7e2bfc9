package dataset

import (
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/iamgideonidoko/geoshield/pkg/iprange"
)

func TestParseCountryCSV(t *testing.T) {
	input := strings.Join([]string{
		"start_ip,end_ip,country_code",
		"1.0.0.0,1.0.0.255,au",
		"1.0.1.0, 1.0.3.255 ,CN",
		"2001:db8::,2001:db8::ffff,NL",
		"5.0.0.0,5.0.0.255",
		"not-an-ip,5.0.0.255,DE",
		"6.0.0.0,2001:db8::,DE",
		"7.0.0.9,7.0.0.1,DE",
		"",
		"8.0.0.0,8.0.0.255,US",
	}, "\n")

	got, err := ParseCountryCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCountryCSV() error = %v", err)
	}

	if len(got.V4) != 3 {
		t.Fatalf("len(V4) = %d, want 3: %+v", len(got.V4), got.V4)
	}
	if len(got.V6) != 1 {
		t.Fatalf("len(V6) = %d, want 1", len(got.V6))
	}
	if got.Skipped != 4 {
		t.Errorf("Skipped = %d, want 4", got.Skipped)
	}
	if got.V4[0].Label != "AU" {
		t.Errorf("label = %q, want upper-cased AU", got.V4[0].Label)
	}

	idx := iprange.Build(got.V4, got.V6)
	if cc, _ := idx.Lookup(netip.MustParseAddr("1.0.2.3")); cc != "CN" {
		t.Errorf("lookup 1.0.2.3 = %q, want CN", cc)
	}
	if cc, _ := idx.Lookup(netip.MustParseAddr("2001:db8::42")); cc != "NL" {
		t.Errorf("lookup 2001:db8::42 = %q, want NL", cc)
	}
}

func TestParseCountryCSVHeaderDetection(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantV4 int
	}{
		{"no header", "1.0.0.0,1.0.0.255,AU\n", 1},
		{"start header", "Start,End,Country\n1.0.0.0,1.0.0.255,AU\n", 1},
		{"begin header", "BEGIN,end,cc\n1.0.0.0,1.0.0.255,AU\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCountryCSV(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("ParseCountryCSV() error = %v", err)
			}
			if len(got.V4) != tt.wantV4 || got.Skipped != 0 {
				t.Errorf("V4 = %d, skipped = %d; want %d, 0", len(got.V4), got.Skipped, tt.wantV4)
			}
		})
	}
}

func TestParseCountryCSVEmpty(t *testing.T) {
	if _, err := ParseCountryCSV(strings.NewReader("")); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("error = %v, want ErrEmptyDataset", err)
	}
}

func TestParseSubnetList(t *testing.T) {
	input := `# VPN ranges
10.0.0.0/24

  10.0.1.0/24
not a subnet
192.168.1.77/16
8.8.8.8
2001:db8::/32
300.0.0.0/8
`
	prefixes, invalid, err := ParseSubnetList(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseSubnetList() error = %v", err)
	}
	if invalid != 2 {
		t.Errorf("invalid = %d, want 2", invalid)
	}

	want := []string{"10.0.0.0/24", "10.0.1.0/24", "192.168.0.0/16", "8.8.8.8/32", "2001:db8::/32"}
	if len(prefixes) != len(want) {
		t.Fatalf("got %d prefixes, want %d: %v", len(prefixes), len(want), prefixes)
	}
	for i, p := range prefixes {
		if p.String() != want[i] {
			t.Errorf("prefix[%d] = %s, want %s", i, p, want[i])
		}
	}

	v4, v6 := SubnetRanges(prefixes)
	if len(v4) != 4 || len(v6) != 1 {
		t.Errorf("SubnetRanges split = (%d, %d), want (4, 1)", len(v4), len(v6))
	}
	if merged := iprange.Merge(v4); len(merged) != 3 {
		t.Errorf("merged v4 ranges = %d, want 3 (10.0.0.0/23 coalesced)", len(merged))
	}
}
