package privacy

import (
	"strings"
	"unicode"

	"github.com/sanraksh/sanraksh/internal/config"
)

// MaskFunc transforms a matched value into its redacted form. Maskers are
// pure and total: a shape the masker does not recognize degrades to a full
// mask, never an error.
type MaskFunc func(value string) string

// MaskerSet dispatches one masker per category and carries the substring
// scrubbers the processor's sweep reuses. Output shapes are driven by
// MaskingConfig; the zero-value shapes match the reference outputs
// (9812345610 -> 98XXXXXX10, john1@gmail.com -> joXXX@gmail.com,
// Jane Smith -> JXXX SXXXX).
type MaskerSet struct {
	byCategory map[Category]MaskFunc
	mask       string
	cfg        config.MaskingConfig
}

// NewMaskerSet builds the category->masker registry from configuration.
func NewMaskerSet(cfg config.MaskingConfig) *MaskerSet {
	m := &MaskerSet{mask: cfg.MaskChar, cfg: cfg}
	if m.mask == "" {
		m.mask = "X"
	}
	m.byCategory = map[Category]MaskFunc{
		CategoryPhone:       m.maskPhone,
		CategoryEmail:       m.maskEmail,
		CategoryAadhaar:     m.maskAadhaar,
		CategoryPAN:         m.maskPAN,
		CategoryCreditCard:  m.maskCard,
		CategoryBankAccount: m.maskBank,
		CategoryAddress:     m.FullMask,
		CategoryName:        m.maskName,
		CategoryPassport:    m.maskPassport,
		CategoryUPI:         m.maskUPI,
		CategoryIPAddress:   m.maskIP,
		CategoryDeviceID:    m.FullMask,
	}
	return m
}

// Mask redacts value according to its category. Unknown categories get the
// full mask.
func (m *MaskerSet) Mask(cat Category, value string) string {
	if fn, ok := m.byCategory[cat]; ok {
		return fn(value)
	}
	return m.FullMask(value)
}

// FullMask replaces every non-whitespace rune with the mask character.
func (m *MaskerSet) FullMask(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteString(m.mask)
		}
	}
	return b.String()
}

// Sweep rewrites every embedded standalone identifier in s. The processor
// applies it to the string fields of flagged records; values carrying no
// identifier come back unchanged, and the scrubbers are shape-idempotent so
// already-masked values survive a second pass. Email runs before UPI for the
// same reason the rule table orders them that way.
func (m *MaskerSet) Sweep(s string) string {
	out := s
	out, _ = m.scrubPhone(out)
	out, _ = m.scrubAadhaar(out)
	out, _ = m.scrubPassport(out)
	out, _ = m.scrubEmail(out)
	out, _ = m.scrubUPI(out)
	out, _ = m.scrubIP(out)
	return out
}

// Category maskers. Each finds its own shape inside the value so that
// surrounding free text survives; a value with no recognizable span is
// fully masked.

func (m *MaskerSet) maskPhone(value string) string {
	if out, found := m.scrubPhone(value); found {
		return out
	}
	return m.FullMask(value)
}

func (m *MaskerSet) maskAadhaar(value string) string {
	if out, found := m.scrubAadhaar(value); found {
		return out
	}
	return m.FullMask(value)
}

func (m *MaskerSet) maskPassport(value string) string {
	if out, found := m.scrubPassport(value); found {
		return out
	}
	return m.FullMask(value)
}

func (m *MaskerSet) maskEmail(value string) string {
	if out, found := m.scrubEmail(value); found {
		return out
	}
	return m.FullMask(value)
}

func (m *MaskerSet) maskUPI(value string) string {
	if out, found := m.scrubUPI(value); found {
		return out
	}
	return m.FullMask(value)
}

func (m *MaskerSet) maskIP(value string) string {
	if out, found := m.scrubIP(value); found {
		return out
	}
	return m.FullMask(value)
}

func (m *MaskerSet) maskPAN(value string) string {
	spans := findBounded(value, panSearch, alnumBounded)
	if len(spans) == 0 {
		return m.FullMask(value)
	}
	return replaceSpans(value, spans, func(match string) string {
		return m.keepEnds(match, m.cfg.PANPrefix, m.cfg.PANSuffix)
	})
}

func (m *MaskerSet) maskCard(value string) string {
	var spans [][2]int
	for _, sp := range findBounded(value, cardSearch, digitBounded) {
		if luhnValid(digitsOf(value[sp[0]:sp[1]])) {
			spans = append(spans, sp)
		}
	}
	if len(spans) == 0 {
		return m.FullMask(value)
	}
	keep := m.cfg.CardSuffix
	return replaceSpans(value, spans, func(match string) string {
		total := countDigits(match)
		seen := 0
		var b strings.Builder
		b.Grow(len(match))
		for i := 0; i < len(match); i++ {
			c := match[i]
			if !isDigit(c) {
				b.WriteByte(c)
				continue
			}
			seen++
			if total-seen < keep {
				b.WriteByte(c)
			} else {
				b.WriteString(m.mask)
			}
		}
		return b.String()
	})
}

func (m *MaskerSet) maskBank(value string) string {
	trimmed := strings.TrimSpace(value)
	if !bankPattern.MatchString(trimmed) {
		return m.FullMask(value)
	}
	if m.cfg.BankSuffix <= 0 {
		return strings.Repeat(m.mask, len(trimmed))
	}
	return m.keepEnds(trimmed, 0, m.cfg.BankSuffix)
}

func (m *MaskerSet) maskName(value string) string {
	tokens := strings.Fields(value)
	if len(tokens) == 0 {
		return m.FullMask(value)
	}
	pre := m.cfg.NameTokenPrefix
	if pre < 1 {
		pre = 1
	}
	masked := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		r := []rune(tok)
		p := pre
		if p > len(r) {
			p = len(r)
		}
		masked = append(masked, string(r[:p])+strings.Repeat(m.mask, len(r)-p))
	}
	return strings.Join(masked, " ")
}

// Substring scrubbers. Each reports whether it found anything so the
// category maskers can fall back to a full mask while Sweep leaves clean
// values alone.

func (m *MaskerSet) scrubPhone(value string) (string, bool) {
	spans := findBounded(value, phoneSearch, digitBounded)
	if len(spans) == 0 {
		return value, false
	}
	return replaceSpans(value, spans, func(match string) string {
		digits := digitsOf(match)
		// The span may carry a country-code prefix; the mask keeps only the
		// ten-digit subscriber number.
		core := digits[len(digits)-10:]
		return m.keepEnds(core, m.cfg.PhonePrefix, m.cfg.PhoneSuffix)
	}), true
}

func (m *MaskerSet) scrubAadhaar(value string) (string, bool) {
	spans := findBounded(value, aadhaarSearch, digitBounded)
	if len(spans) == 0 {
		return value, false
	}
	group := strings.Repeat(m.mask, 4)
	canonical := group + "-" + group + "-" + group
	return replaceSpans(value, spans, func(string) string {
		return canonical
	}), true
}

func (m *MaskerSet) scrubPassport(value string) (string, bool) {
	spans := findBounded(value, passportSearch, alnumBounded)
	if len(spans) == 0 {
		return value, false
	}
	return replaceSpans(value, spans, func(match string) string {
		return strings.ToUpper(match[:1]) + strings.Repeat(m.mask, 6) + match[len(match)-1:]
	}), true
}

func (m *MaskerSet) scrubEmail(value string) (string, bool) {
	spans := findBounded(value, emailSearch, nil)
	if len(spans) == 0 {
		return value, false
	}
	return replaceSpans(value, spans, func(match string) string {
		at := strings.LastIndex(match, "@")
		local, domain := []rune(match[:at]), match[at+1:]
		pre := m.cfg.EmailLocalPrefix
		if pre < 0 {
			pre = 0
		}
		if pre > len(local) {
			pre = len(local)
		}
		n := len(local) - pre
		if n < 1 {
			n = 1
		}
		return string(local[:pre]) + strings.Repeat(m.mask, n) + "@" + domain
	}), true
}

func (m *MaskerSet) scrubUPI(value string) (string, bool) {
	spans := findBounded(value, upiSearch, nil)
	if len(spans) == 0 {
		return value, false
	}
	return replaceSpans(value, spans, func(match string) string {
		at := strings.LastIndex(match, "@")
		local, provider := []rune(match[:at]), match[at+1:]
		pre := m.cfg.UPIHandlePrefix
		if pre < 0 {
			pre = 0
		}
		if pre > len(local) {
			pre = len(local)
		}
		n := len(local) - pre - 1
		if n < 1 {
			n = 1
		}
		last := ""
		if len(local) > 0 {
			last = string(local[len(local)-1:])
		}
		return string(local[:pre]) + strings.Repeat(m.mask, n) + last + "@" + provider
	}), true
}

func (m *MaskerSet) scrubIP(value string) (string, bool) {
	var spans [][2]int
	for _, sp := range findBounded(value, ipSearch, nil) {
		if validOctets(value[sp[0]:sp[1]]) {
			spans = append(spans, sp)
		}
	}
	if len(spans) == 0 {
		return value, false
	}
	visible := m.cfg.IPVisibleOctets
	if visible < 0 {
		visible = 0
	}
	if visible > 4 {
		visible = 4
	}
	return replaceSpans(value, spans, func(match string) string {
		parts := strings.Split(match, ".")
		for i := visible; i < len(parts); i++ {
			parts[i] = m.mask
		}
		return strings.Join(parts, ".")
	}), true
}

// keepEnds keeps the first prefix and last suffix runes of s and masks the
// middle. Degenerate preserve counts fall back to a full mask rather than
// leak extra characters.
func (m *MaskerSet) keepEnds(s string, prefix, suffix int) string {
	r := []rune(s)
	if prefix < 0 {
		prefix = 0
	}
	if suffix < 0 {
		suffix = 0
	}
	if prefix+suffix >= len(r) {
		return m.FullMask(s)
	}
	return string(r[:prefix]) + strings.Repeat(m.mask, len(r)-prefix-suffix) + string(r[len(r)-suffix:])
}

// replaceSpans rebuilds s with each span replaced by repl(span text). Spans
// must be sorted and non-overlapping, which FindAllStringIndex guarantees.
func replaceSpans(s string, spans [][2]int, repl func(string) string) string {
	if len(spans) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, sp := range spans {
		b.WriteString(s[last:sp[0]])
		b.WriteString(repl(s[sp[0]:sp[1]]))
		last = sp[1]
	}
	b.WriteString(s[last:])
	return b.String()
}
