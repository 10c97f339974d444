package privacy

import "testing"

func setOf(cats ...Category) CategorySet {
	s := make(CategorySet)
	for _, c := range cats {
		s.Add(c)
	}
	return s
}

// TestDefaultSignatures tests the built-in quasi-identifier pairs.
func TestDefaultSignatures(t *testing.T) {
	sigs := DefaultSignatures()
	if sigs.Len() != 9 {
		t.Fatalf("Len = %d, want 9", sigs.Len())
	}

	cases := []struct {
		name    string
		matched CategorySet
		want    bool
	}{
		{"NameEmail", setOf(CategoryName, CategoryEmail), true},
		{"NameAddress", setOf(CategoryName, CategoryAddress), true},
		{"NameIP", setOf(CategoryName, CategoryIPAddress), true},
		{"EmailDevice", setOf(CategoryEmail, CategoryDeviceID), true},
		{"AddressIP", setOf(CategoryAddress, CategoryIPAddress), true},
		{"DeviceIPExcluded", setOf(CategoryDeviceID, CategoryIPAddress), false},
		{"SingleEmail", setOf(CategoryEmail), false},
		{"SingleName", setOf(CategoryName), false},
		{"Empty", setOf(), false},
		{"Superset", setOf(CategoryName, CategoryEmail, CategoryAddress), true},
		{"UnrelatedPair", setOf(CategoryPhone, CategoryPAN), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sigs.Evaluate(tc.matched); got != tc.want {
				t.Errorf("Evaluate(%v) = %v, want %v", tc.matched, got, tc.want)
			}
		})
	}
}

// TestParseSignatures tests signature validation.
func TestParseSignatures(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		sigs, err := ParseSignatures([][]string{
			{"name", "email"},
			{"address", "device_id", "ip_address"},
		})
		if err != nil {
			t.Fatalf("ParseSignatures failed: %v", err)
		}
		if sigs.Len() != 2 {
			t.Errorf("Len = %d, want 2", sigs.Len())
		}
		if !sigs.Evaluate(setOf(CategoryName, CategoryEmail)) {
			t.Error("Parsed signature did not evaluate")
		}
		if sigs.Evaluate(setOf(CategoryAddress, CategoryDeviceID)) {
			t.Error("Two of three categories must not satisfy a triple")
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		if _, err := ParseSignatures([][]string{{"name", "ssn"}}); err == nil {
			t.Error("Expected error for an unknown category")
		}
	})

	t.Run("TooFewCategories", func(t *testing.T) {
		if _, err := ParseSignatures([][]string{{"name"}}); err == nil {
			t.Error("Expected error for a single-category signature")
		}
		if _, err := ParseSignatures([][]string{{"name", "name"}}); err == nil {
			t.Error("Expected error for a duplicate-category signature")
		}
	})

	t.Run("Describe", func(t *testing.T) {
		sigs, err := ParseSignatures([][]string{{"email", "name"}})
		if err != nil {
			t.Fatalf("ParseSignatures failed: %v", err)
		}
		desc := sigs.Describe()
		if len(desc) != 1 {
			t.Fatalf("Describe returned %d signatures", len(desc))
		}
		if len(desc[0]) != 2 || desc[0][0] != "email" || desc[0][1] != "name" {
			t.Errorf("Describe = %v, want sorted category names", desc[0])
		}
	})
}
