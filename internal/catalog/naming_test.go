package catalog

import "testing"

func TestValidateNameRejectsDangerousAndMalformed(t *testing.T) {
	v := NewValidator(nil, nil)
	cases := []struct {
		name  string
		input string
		ok    bool
	}{
		{"simple dotted", "users.view", true},
		{"underscored", "inventory.stock_level.view", true},
		{"uppercase", "Users.View", false},
		{"leading digit", "1users.view", false},
		{"empty", "", false},
		{"trailing dot", "users.", false},
		{"system prefix", "system.delete", false},
		{"root prefix", "root.anything", false},
		{"sudo prefix", "sudo.make_sandwich", false},
		{"destroy infix", "inventory.destroy.all", false},
		{"reserved segment admin", "reports.admin", false},
		{"reserved segment all", "reports.all", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateName(tc.input)
			if tc.ok && err != nil {
				t.Fatalf("expected %q to pass, got %v", tc.input, err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected %q to be rejected", tc.input)
			}
		})
	}
}

func TestValidateNameLengthBound(t *testing.T) {
	v := NewValidator(nil, nil)
	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := v.ValidateName(string(long)); err == nil {
		t.Fatal("expected over-length name to be rejected")
	}
}

func TestValidateNameAllowlistSkipsDenyListOnly(t *testing.T) {
	v := NewValidator(nil, []string{"system.legacy_export"})
	if err := v.ValidateName("system.legacy_export"); err != nil {
		t.Fatalf("allow-listed name rejected: %v", err)
	}
	// The allow-list never excuses a malformed name.
	v = NewValidator(nil, []string{"System.Legacy"})
	if err := v.ValidateName("System.Legacy"); err == nil {
		t.Fatal("allow-listed malformed name must still fail the pattern")
	}
}

func TestValidateNameCustomDenyList(t *testing.T) {
	v := NewValidator([]string{"billing.*"}, nil)
	if err := v.ValidateName("billing.charge"); err == nil {
		t.Fatal("expected custom pattern to reject")
	}
	// Custom deny-list replaces the default one entirely; reserved
	// segments still apply.
	if err := v.ValidateName("reports.view"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if err := v.ValidateName("system.view"); err == nil {
		t.Fatal("reserved segment must be rejected even with custom deny-list")
	}
}

func TestValidateTextCatchesMarkup(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"Warehouse supervisors", true},
		{"Can approve <script>alert(1)</script>", false},
		{"x'; DROP TABLE roles; --", false},
		{"normal text with union select inside", false},
		{"javascript:void(0)", false},
	}
	for _, tc := range cases {
		err := ValidateText("description", tc.value)
		if tc.ok && err != nil {
			t.Fatalf("expected %q to pass, got %v", tc.value, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("expected %q to be rejected", tc.value)
		}
	}
}
