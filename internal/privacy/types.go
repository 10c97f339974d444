package privacy

// Category identifies one kind of personally identifiable information.
type Category string

// The closed set of categories. Classification precedence lives in the rule
// table, not here.
const (
	CategoryPhone       Category = "phone"
	CategoryEmail       Category = "email"
	CategoryAadhaar     Category = "aadhaar"
	CategoryPAN         Category = "pan"
	CategoryCreditCard  Category = "credit_card"
	CategoryBankAccount Category = "bank_account"
	CategoryAddress     Category = "address"
	CategoryName        Category = "name"
	CategoryPassport    Category = "passport"
	CategoryUPI         Category = "upi"
	CategoryIPAddress   Category = "ip_address"
	CategoryDeviceID    Category = "device_id"
)

// KnownCategories returns every category the engine understands.
func KnownCategories() []Category {
	return []Category{
		CategoryPhone,
		CategoryEmail,
		CategoryAadhaar,
		CategoryPAN,
		CategoryCreditCard,
		CategoryBankAccount,
		CategoryAddress,
		CategoryName,
		CategoryPassport,
		CategoryUPI,
		CategoryIPAddress,
		CategoryDeviceID,
	}
}

// knownCategory reports membership in the closed category set.
func knownCategory(c Category) bool {
	for _, k := range KnownCategories() {
		if k == c {
			return true
		}
	}
	return false
}

// CategorySet is an unordered collection of matched categories.
type CategorySet map[Category]bool

// Add inserts a category into the set.
func (s CategorySet) Add(c Category) {
	s[c] = true
}

// Has reports whether the category is present.
func (s CategorySet) Has(c Category) bool {
	return s[c]
}

// ContainsAll reports whether every category in other is present in s.
func (s CategorySet) ContainsAll(other CategorySet) bool {
	for c := range other {
		if !s[c] {
			return false
		}
	}
	return true
}

// Record is one unit of work: an opaque identifier plus an ordered map of
// primitive fields parsed from the row payload.
type Record struct {
	ID     string
	Fields *FieldMap
}

// Finding describes a single masked field. It carries the masked form only;
// the original value is never retained past processing.
type Finding struct {
	Field    string   `json:"field"`
	Category Category `json:"category"`
	Masked   string   `json:"masked"`
}

// RecordResult is the redacted output for one record.
type RecordResult struct {
	RecordID string    `json:"record_id"`
	Fields   *FieldMap `json:"data"`
	IsPII    bool      `json:"is_pii"`
	Findings []Finding `json:"findings,omitempty"`
}

// Categories returns the distinct matched category names in field order.
func (r *RecordResult) Categories() []string {
	seen := make(map[Category]bool, len(r.Findings))
	var names []string
	for _, f := range r.Findings {
		if !seen[f.Category] {
			seen[f.Category] = true
			names = append(names, string(f.Category))
		}
	}
	return names
}

// RuleInfo is the externally visible description of one rule table entry.
// Patterns are deliberately not exposed.
type RuleInfo struct {
	Position   int      `json:"position"`
	Label      string   `json:"label"`
	Category   Category `json:"category"`
	Standalone bool     `json:"standalone"`
	HintOnly   bool     `json:"hint_only"`
	Enabled    bool     `json:"enabled"`
}
