package privacy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sanraksh/sanraksh/internal/config"
)

// Matchers for the structured identifier categories. These are search
// patterns: an identifier embedded in surrounding text still counts. Go's
// regexp engine has no lookaround, so the digit/alnum boundary checks the
// originals express with lookarounds are applied separately to each match
// (see findBounded).
var (
	phoneSearch    = regexp.MustCompile(`(?:\+?91[-\s]?)?[6-9]\d{9}`)
	cardSearch     = regexp.MustCompile(`\d(?:[ -]?\d){12,18}`)
	aadhaarSearch  = regexp.MustCompile(`\d{4}[\s-]?\d{4}[\s-]?\d{4}`)
	passportSearch = regexp.MustCompile(`[A-PR-WYa-pr-wy] ?\d{7}`)
	panSearch      = regexp.MustCompile(`[A-Za-z]{5}\d{4}[A-Za-z]`)
	bankPattern    = regexp.MustCompile(`^\d{9,18}$`)
	emailSearch    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]{2,}@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	upiSearch      = regexp.MustCompile(`[a-zA-Z0-9.\-_]{2,}@[a-zA-Z]{2,}`)
	ipSearch       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	pincodeSearch  = regexp.MustCompile(`\d{6}`)

	// A full name is exactly two alphabetic tokens; anything looser drowns in
	// false positives on free text.
	fullNamePattern = regexp.MustCompile(`^[A-Za-z]{2,}[ ,]+[A-Za-z]{2,}$`)
)

// Built-in field-name hint sets. Hint keys admit looser value shapes for
// their rule; safe keys suppress it outright. Config can override most of
// these (see resolveHints).
var (
	phoneHintKeys   = keySet("phone", "contact", "mobile", "alt_phone", "phone_number")
	fullNameKeys    = keySet("name", "full_name")
	partNameKeys    = keySet("first_name", "last_name")
	addressHintKeys = keySet("address", "shipping_address", "billing_address")
	accountHintKeys = keySet("account_number", "bank_account", "account_no", "acct_no", "acc_number")
	deviceHintKeys  = keySet("device_id")
	ipHintKeys      = keySet("ip_address")

	// Keys whose values are operator-assigned identifiers, not phone numbers,
	// even when they happen to look like one.
	safeNumericKeys = keySet(
		"order_id", "transaction_id", "product_id", "ticket_id",
		"warehouse_code", "customer_id", "gst_number", "state_code",
		"booking_reference",
	)
)

var streetTokens = []string{
	"street", "st.", "road", "rd.", "lane", "block", "sector",
	"apt", "apartment", "floor", "phase",
}

func keySet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// MatchFunc decides whether a value belongs to a rule's category. hinted is
// true when the field name sits in the rule's hint set.
type MatchFunc func(value string, hinted bool) bool

// Rule is one entry in the ordered classification table.
type Rule struct {
	Label      string
	Category   Category
	Standalone bool
	// HintOnly rules are considered only for field names in HintKeys.
	HintOnly bool
	HintKeys map[string]bool
	SafeKeys map[string]bool
	Match    MatchFunc
}

// RuleTable is the ordered, immutable rule set shared read-only by all
// workers. Build it once via BuildRules.
type RuleTable struct {
	rules      []Rule
	enabled    map[Category]bool
	standalone map[Category]bool
}

// BuildRules assembles the rule table from configuration: category enable
// list plus optional hint-key overrides. The table order is fixed and never
// configurable.
func BuildRules(cfg config.PrivacyConfig) (*RuleTable, error) {
	enabled, err := resolveCategories(cfg.Categories)
	if err != nil {
		return nil, err
	}

	rules := buildRuleList(resolveHints(cfg.Hints))

	standalone := make(map[Category]bool)
	for _, r := range rules {
		if r.Standalone {
			standalone[r.Category] = true
		}
	}

	return &RuleTable{rules: rules, enabled: enabled, standalone: standalone}, nil
}

// buildRuleList fixes the classification order, which doubles as the
// tie-break policy for ambiguous values:
//   - Phone precedes the bank-account catch-all, so a 10-digit 6-9 value is a
//     phone even under an account hint key.
//   - CreditCard precedes Aadhaar, so a separator-grouped 16-digit card is not
//     eaten by the 4-4-4 shape of its first 12 digits.
//   - Email precedes UPI, so dotted-domain addresses never classify as UPI
//     handles.
//   - Hint-gated text categories come after every structured identifier.
func buildRuleList(h hintSets) []Rule {
	return []Rule{
		{Label: "phone", Category: CategoryPhone, Standalone: true, HintKeys: h.phone, SafeKeys: h.safe, Match: matchPhone},
		{Label: "credit_card", Category: CategoryCreditCard, Standalone: true, Match: matchCard},
		{Label: "aadhaar", Category: CategoryAadhaar, Standalone: true, Match: matchAadhaar},
		{Label: "passport", Category: CategoryPassport, Standalone: true, Match: matchPassport},
		{Label: "pan", Category: CategoryPAN, Standalone: true, Match: matchPAN},
		{Label: "bank_account", Category: CategoryBankAccount, Standalone: true, HintOnly: true, HintKeys: h.account, Match: matchBank},
		{Label: "email", Category: CategoryEmail, Match: matchEmail},
		{Label: "upi", Category: CategoryUPI, Standalone: true, Match: matchUPI},
		{Label: "ip_address", Category: CategoryIPAddress, HintOnly: true, HintKeys: ipHintKeys, Match: matchIP},
		{Label: "name_full", Category: CategoryName, HintOnly: true, HintKeys: h.fullName, Match: matchFullName},
		{Label: "name_part", Category: CategoryName, HintOnly: true, HintKeys: partNameKeys, Match: matchPartName},
		{Label: "address", Category: CategoryAddress, HintOnly: true, HintKeys: h.address, Match: matchAddress},
		{Label: "device_id", Category: CategoryDeviceID, HintOnly: true, HintKeys: h.device, Match: matchDevice},
	}
}

type hintSets struct {
	phone    map[string]bool
	fullName map[string]bool
	address  map[string]bool
	account  map[string]bool
	device   map[string]bool
	safe     map[string]bool
}

func resolveHints(cfg config.HintsConfig) hintSets {
	return hintSets{
		phone:    overrideKeys(cfg.PhoneKeys, phoneHintKeys),
		fullName: overrideKeys(cfg.NameKeys, fullNameKeys),
		address:  overrideKeys(cfg.AddressKeys, addressHintKeys),
		account:  overrideKeys(cfg.AccountKeys, accountHintKeys),
		device:   overrideKeys(cfg.DeviceKeys, deviceHintKeys),
		safe:     overrideKeys(cfg.SafeKeys, safeNumericKeys),
	}
}

func overrideKeys(override []string, builtin map[string]bool) map[string]bool {
	if len(override) == 0 {
		return builtin
	}
	m := make(map[string]bool, len(override))
	for _, k := range override {
		m[strings.ToLower(strings.TrimSpace(k))] = true
	}
	return m
}

func resolveCategories(names []string) (map[Category]bool, error) {
	if len(names) == 0 {
		names = []string{"all"}
	}

	enabled := make(map[Category]bool)
	for _, name := range names {
		if strings.EqualFold(name, "all") {
			for _, c := range KnownCategories() {
				enabled[c] = true
			}
			continue
		}
		c := Category(strings.ToLower(name))
		if !knownCategory(c) {
			return nil, fmt.Errorf("unknown category: %s", name)
		}
		enabled[c] = true
	}
	return enabled, nil
}

// classify walks the table in order and returns the first matching category.
// The caller passes the value's coerced string form.
func (t *RuleTable) classify(key, value string) (Category, bool) {
	lowkey := strings.ToLower(strings.TrimSpace(key))
	for i := range t.rules {
		r := &t.rules[i]
		if !t.enabled[r.Category] {
			continue
		}
		if r.SafeKeys[lowkey] {
			continue
		}
		hinted := r.HintKeys[lowkey]
		if r.HintOnly && !hinted {
			continue
		}
		if r.Match(value, hinted) {
			return r.Category, true
		}
	}
	return "", false
}

// IsStandalone reports whether a single match of c flags the whole record.
func (t *RuleTable) IsStandalone(c Category) bool {
	return t.standalone[c]
}

// Enabled reports whether the category participates in classification.
func (t *RuleTable) Enabled(c Category) bool {
	return t.enabled[c]
}

// Rules describes the table entries in classification order.
func (t *RuleTable) Rules() []RuleInfo {
	infos := make([]RuleInfo, 0, len(t.rules))
	for i, r := range t.rules {
		infos = append(infos, RuleInfo{
			Position:   i + 1,
			Label:      r.Label,
			Category:   r.Category,
			Standalone: r.Standalone,
			HintOnly:   r.HintOnly,
			Enabled:    t.enabled[r.Category],
		})
	}
	return infos
}

// Match functions. All operate on the raw string form of the value; none
// may panic on any input.

func matchPhone(value string, hinted bool) bool {
	if hinted {
		return hasBounded(value, phoneSearch, digitBounded)
	}
	// Without a hint the value as a whole must be a bare mobile number:
	// exactly ten digits in total, with a contiguous valid run among them.
	return countDigits(value) == 10 && hasBounded(value, phoneSearch, digitBounded)
}

func matchCard(value string, _ bool) bool {
	for _, span := range findBounded(value, cardSearch, digitBounded) {
		if luhnValid(digitsOf(value[span[0]:span[1]])) {
			return true
		}
	}
	return false
}

func matchAadhaar(value string, _ bool) bool {
	return hasBounded(value, aadhaarSearch, digitBounded)
}

func matchPassport(value string, _ bool) bool {
	return hasBounded(value, passportSearch, alnumBounded)
}

func matchPAN(value string, _ bool) bool {
	return hasBounded(value, panSearch, alnumBounded)
}

func matchBank(value string, _ bool) bool {
	return bankPattern.MatchString(strings.TrimSpace(value))
}

func matchEmail(value string, _ bool) bool {
	return emailSearch.MatchString(value)
}

func matchUPI(value string, _ bool) bool {
	return upiSearch.MatchString(value)
}

func matchIP(value string, _ bool) bool {
	for _, span := range findBounded(value, ipSearch, nil) {
		if validOctets(value[span[0]:span[1]]) {
			return true
		}
	}
	return false
}

func matchFullName(value string, _ bool) bool {
	return fullNamePattern.MatchString(value)
}

func matchPartName(value string, _ bool) bool {
	return len(strings.TrimSpace(value)) >= 2
}

func matchDevice(value string, _ bool) bool {
	return len(strings.TrimSpace(value)) >= 6
}

// matchAddress wants real address evidence, not just the hint key: a 6-digit
// pincode plus a street vocabulary token.
func matchAddress(value string, _ bool) bool {
	if !hasBounded(value, pincodeSearch, digitBounded) {
		return false
	}
	low := strings.ToLower(value)
	for _, tok := range streetTokens {
		if strings.Contains(low, tok) {
			return true
		}
	}
	return false
}

// Scanning helpers shared with the maskers.

type boundFunc func(s string, start, end int) bool

// findBounded returns the spans of re's matches that pass the boundary
// check. A nil boundFunc accepts every match.
func findBounded(s string, re *regexp.Regexp, bounded boundFunc) [][2]int {
	var spans [][2]int
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if bounded == nil || bounded(s, loc[0], loc[1]) {
			spans = append(spans, [2]int{loc[0], loc[1]})
		}
	}
	return spans
}

func hasBounded(s string, re *regexp.Regexp, bounded boundFunc) bool {
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if bounded == nil || bounded(s, loc[0], loc[1]) {
			return true
		}
	}
	return false
}

// digitBounded rejects matches flanked by further digits, so a run inside a
// longer number never counts.
func digitBounded(s string, start, end int) bool {
	if start > 0 && isDigit(s[start-1]) {
		return false
	}
	if end < len(s) && isDigit(s[end]) {
		return false
	}
	return true
}

func alnumBounded(s string, start, end int) bool {
	if start > 0 && isAlnum(s[start-1]) {
		return false
	}
	if end < len(s) && isAlnum(s[end]) {
		return false
	}
	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isAlnum(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func countDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			n++
		}
	}
	return n
}

func digitsOf(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// luhnValid runs the Luhn checksum over a digit string.
func luhnValid(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validOctets(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}
