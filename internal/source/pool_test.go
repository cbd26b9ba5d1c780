package source

import "testing"

func TestDBFlavor(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"8.0.36", "MySQL"},
		{"5.7.44-log", "MySQL"},
		{"10.11.6-MariaDB-1:10.11.6+maria~ubu2204", "MariaDB"},
		{"5.5.5-10.4.13-MariaDB", "MariaDB"},
		{"", "MySQL"},
	}

	for _, tt := range tests {
		if got := dbFlavor(tt.version); got != tt.want {
			t.Errorf("dbFlavor(%q) = %q, want %q", tt.version, got, tt.want)
		}
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"updated_at", "`updated_at`"},
		{"odd`name", "`odd``name`"},
	}
	for _, tt := range tests {
		if got := QuoteIdentifier(tt.in); got != tt.want {
			t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := QualifyTable("shop", "fac_orders"); got != "`shop`.`fac_orders`" {
		t.Errorf("QualifyTable = %q", got)
	}
}
