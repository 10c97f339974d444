package privacy

import (
	"encoding/json"
	"testing"

	"github.com/sanraksh/sanraksh/internal/config"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	table, err := BuildRules(config.GetDefaults().Privacy)
	if err != nil {
		t.Fatalf("Failed to build rule table: %v", err)
	}
	return NewClassifier(table)
}

// TestClassify tests per-field category decisions across the rule table.
func TestClassify(t *testing.T) {
	c := testClassifier(t)

	check := func(t *testing.T, field string, value any, want Category, wantMatch bool) {
		t.Helper()
		got, ok := c.Classify(field, value)
		if ok != wantMatch {
			t.Fatalf("Classify(%q) match = %v, want %v (got category %q)", field, ok, wantMatch, got)
		}
		if ok && got != want {
			t.Errorf("Classify(%q) = %q, want %q", field, got, want)
		}
	}

	t.Run("Phone", func(t *testing.T) {
		check(t, "phone", "9812345610", CategoryPhone, true)
		check(t, "anything", "9812345610", CategoryPhone, true)
		// Ten digits total, embedded in text.
		check(t, "note", "call 9812345610 now", CategoryPhone, true)
		// Country-code forms carry extra digits and need a hint key.
		check(t, "phone", "+91 9812345610", CategoryPhone, true)
		check(t, "mobile", "+91-9812345610", CategoryPhone, true)
		check(t, "comment", "+91 9812345610", "", false)
		// Leading digit outside 6-9 is not a mobile number.
		check(t, "phone", "1812345610", "", false)
		// Part of a longer digit run never matches.
		check(t, "note", "98123456105", "", false)
	})

	t.Run("SafeKeys", func(t *testing.T) {
		check(t, "order_id", "9812345610", "", false)
		check(t, "customer_id", "9812345610", "", false)
		check(t, "transaction_id", "9812345610", "", false)
	})

	t.Run("Aadhaar", func(t *testing.T) {
		check(t, "id", "1234 5678 9012", CategoryAadhaar, true)
		check(t, "id", "1234-5678-9012", CategoryAadhaar, true)
		check(t, "id", "123456789012", CategoryAadhaar, true)
		check(t, "note", "aadhaar 1234 5678 9012 on file", CategoryAadhaar, true)
		// Thirteen contiguous digits are not a 4-4-4 group.
		check(t, "id", "1234567890123", "", false)
	})

	t.Run("Passport", func(t *testing.T) {
		check(t, "doc", "K1234567", CategoryPassport, true)
		check(t, "doc", "K 1234567", CategoryPassport, true)
		check(t, "note", "passport K1234567 issued", CategoryPassport, true)
		// Q is not a valid series letter.
		check(t, "doc", "Q1234567", "", false)
		check(t, "doc", "XK1234567", "", false)
	})

	t.Run("PAN", func(t *testing.T) {
		check(t, "tax_id", "ABCDE1234F", CategoryPAN, true)
		check(t, "note", "PAN: ABCDE1234F", CategoryPAN, true)
		// Embedded in a longer alphanumeric code (a GST number) it must not fire.
		check(t, "gst", "22ABCDE1234F1Z5", "", false)
	})

	t.Run("CreditCard", func(t *testing.T) {
		check(t, "card", "4111 1111 1111 1111", CategoryCreditCard, true)
		check(t, "card", "4111-1111-1111-1111", CategoryCreditCard, true)
		check(t, "card", "4111111111111111", CategoryCreditCard, true)
		// Luhn check rejects; nothing else claims a bare 16-digit run.
		check(t, "card", "4111111111111112", "", false)
	})

	t.Run("BankAccount", func(t *testing.T) {
		check(t, "account_number", "123456789012345", CategoryBankAccount, true)
		check(t, "bank_account", "987654321", CategoryBankAccount, true)
		// Without the hint key a digit run stays unclassified.
		check(t, "reference", "123456789012345", "", false)
		check(t, "account_number", "12345678", "", false)
	})

	t.Run("Email", func(t *testing.T) {
		check(t, "email", "jane@gmail.com", CategoryEmail, true)
		check(t, "contact_email", "no-reply@sub.domain.co", CategoryEmail, true)
		check(t, "note", "write to jane@gmail.com please", CategoryEmail, true)
		check(t, "email", "not-an-email", "", false)
	})

	t.Run("UPI", func(t *testing.T) {
		check(t, "vpa", "rahul@okaxis", CategoryUPI, true)
		check(t, "note", "pay rahul@okaxis today", CategoryUPI, true)
		// Dotted domains are email, never UPI.
		check(t, "vpa", "jane@gmail.com", CategoryEmail, true)
	})

	t.Run("IPAddress", func(t *testing.T) {
		check(t, "ip_address", "10.64.3.7", CategoryIPAddress, true)
		check(t, "ip_address", "999.1.1.1", "", false)
		// Hint-gated: the same value under another key stays unclassified.
		check(t, "server", "10.64.3.7", "", false)
	})

	t.Run("Name", func(t *testing.T) {
		check(t, "name", "Jane Smith", CategoryName, true)
		check(t, "full_name", "Ravi Kumar", CategoryName, true)
		check(t, "first_name", "Priya", CategoryName, true)
		check(t, "last_name", "Sharma", CategoryName, true)
		// Full-name keys need two tokens; part keys need length two.
		check(t, "name", "Priya", "", false)
		check(t, "first_name", "P", "", false)
		// No hint key, no name.
		check(t, "comment", "Jane Smith", "", false)
	})

	t.Run("Address", func(t *testing.T) {
		check(t, "shipping_address", "12 MG Road, Indiranagar 560038", CategoryAddress, true)
		check(t, "address", "Flat 4B, Sector 21, Noida 201301", CategoryAddress, true)
		// Missing pincode or street token is not enough evidence.
		check(t, "address", "MG Road, Indiranagar", "", false)
		check(t, "address", "Bengaluru 560038", "", false)
		// Hint-gated.
		check(t, "note", "12 MG Road 560038", "", false)
	})

	t.Run("DeviceID", func(t *testing.T) {
		check(t, "device_id", "a1b2c3d4", CategoryDeviceID, true)
		check(t, "device_id", "abc", "", false)
		check(t, "device", "a1b2c3d4", "", false)
	})

	t.Run("NoneValues", func(t *testing.T) {
		check(t, "phone", nil, "", false)
		check(t, "phone", "", "", false)
		check(t, "phone", "   ", "", false)
		check(t, "phone", json.RawMessage(`{"nested": 1}`), "", false)
		check(t, "phone", true, "", false)
	})

	t.Run("Numbers", func(t *testing.T) {
		check(t, "contact", json.Number("9812345610"), CategoryPhone, true)
		check(t, "order_value", json.Number("1299"), "", false)
	})
}

// TestClassifyTieBreaks tests that table order resolves doubly-matching values.
func TestClassifyTieBreaks(t *testing.T) {
	c := testClassifier(t)

	t.Run("PhoneBeatsBankAccount", func(t *testing.T) {
		// Ten digits with a 6-9 lead under an account hint key: the phone
		// rule sits earlier in the table and wins.
		got, ok := c.Classify("account_number", "9812345610")
		if !ok || got != CategoryPhone {
			t.Errorf("Classify = %q (match %v), want %q", got, ok, CategoryPhone)
		}
	})

	t.Run("CreditCardBeatsAadhaar", func(t *testing.T) {
		// The first 12 digits of a grouped card look like a 4-4-4 Aadhaar;
		// the card rule sits earlier and claims the full run.
		got, ok := c.Classify("payment", "4111 1111 1111 1111")
		if !ok || got != CategoryCreditCard {
			t.Errorf("Classify = %q (match %v), want %q", got, ok, CategoryCreditCard)
		}
	})

	t.Run("AadhaarBeatsBankAccount", func(t *testing.T) {
		got, ok := c.Classify("account_number", "123456789012")
		if !ok || got != CategoryAadhaar {
			t.Errorf("Classify = %q (match %v), want %q", got, ok, CategoryAadhaar)
		}
	})

	t.Run("EmailBeatsUPI", func(t *testing.T) {
		got, ok := c.Classify("handle", "jane@gmail.com")
		if !ok || got != CategoryEmail {
			t.Errorf("Classify = %q (match %v), want %q", got, ok, CategoryEmail)
		}
	})
}

// TestBuildRules tests table construction from configuration.
func TestBuildRules(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		table, err := BuildRules(config.GetDefaults().Privacy)
		if err != nil {
			t.Fatalf("BuildRules failed: %v", err)
		}
		rules := table.Rules()
		if len(rules) != 13 {
			t.Fatalf("Expected 13 rules, got %d", len(rules))
		}
		if rules[0].Label != "phone" {
			t.Errorf("First rule is %q, want phone", rules[0].Label)
		}
		if rules[len(rules)-1].Label != "device_id" {
			t.Errorf("Last rule is %q, want device_id", rules[len(rules)-1].Label)
		}
		for i, r := range rules {
			if r.Position != i+1 {
				t.Errorf("Rule %q position = %d, want %d", r.Label, r.Position, i+1)
			}
			if !r.Enabled {
				t.Errorf("Rule %q should be enabled by default", r.Label)
			}
		}
	})

	t.Run("StandaloneSplit", func(t *testing.T) {
		table, _ := BuildRules(config.GetDefaults().Privacy)
		standalone := []Category{
			CategoryPhone, CategoryAadhaar, CategoryPAN, CategoryCreditCard,
			CategoryBankAccount, CategoryPassport, CategoryUPI,
		}
		compositeOnly := []Category{
			CategoryName, CategoryEmail, CategoryAddress, CategoryIPAddress, CategoryDeviceID,
		}
		for _, cat := range standalone {
			if !table.IsStandalone(cat) {
				t.Errorf("%s should be standalone", cat)
			}
		}
		for _, cat := range compositeOnly {
			if table.IsStandalone(cat) {
				t.Errorf("%s should not be standalone", cat)
			}
		}
	})

	t.Run("CategorySubset", func(t *testing.T) {
		cfg := config.GetDefaults().Privacy
		cfg.Categories = []string{"phone", "email"}
		table, err := BuildRules(cfg)
		if err != nil {
			t.Fatalf("BuildRules failed: %v", err)
		}
		c := NewClassifier(table)
		if _, ok := c.Classify("id", "1234 5678 9012"); ok {
			t.Error("Disabled aadhaar category should not classify")
		}
		if got, ok := c.Classify("phone", "9812345610"); !ok || got != CategoryPhone {
			t.Error("Enabled phone category should classify")
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		cfg := config.GetDefaults().Privacy
		cfg.Categories = []string{"phone", "ssn"}
		if _, err := BuildRules(cfg); err == nil {
			t.Error("Expected error for unknown category")
		}
	})

	t.Run("HintOverride", func(t *testing.T) {
		cfg := config.GetDefaults().Privacy
		cfg.Hints.PhoneKeys = []string{"telefon"}
		table, err := BuildRules(cfg)
		if err != nil {
			t.Fatalf("BuildRules failed: %v", err)
		}
		c := NewClassifier(table)
		if got, ok := c.Classify("telefon", "+91 9812345610"); !ok || got != CategoryPhone {
			t.Error("Overridden hint key should admit the country-code form")
		}
		if _, ok := c.Classify("phone", "+91 9812345610"); ok {
			t.Error("Replaced built-in hint key should no longer apply")
		}
	})
}

// TestLuhn tests the checksum used by the credit card rule.
func TestLuhn(t *testing.T) {
	valid := []string{"4111111111111111", "5500005555555559", "378282246310005"}
	for _, d := range valid {
		if !luhnValid(d) {
			t.Errorf("luhnValid(%s) = false, want true", d)
		}
	}
	invalid := []string{"4111111111111112", "1234567890123456", ""}
	for _, d := range invalid {
		if luhnValid(d) {
			t.Errorf("luhnValid(%s) = true, want false", d)
		}
	}
}

// BenchmarkClassify benchmarks the classifier hot path.
func BenchmarkClassify(b *testing.B) {
	table, err := BuildRules(config.GetDefaults().Privacy)
	if err != nil {
		b.Fatalf("Failed to build rule table: %v", err)
	}
	c := NewClassifier(table)

	b.Run("Phone", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			c.Classify("phone", "9812345610")
		}
	})
	b.Run("Clean", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			c.Classify("order_value", "1299")
		}
	})
}
