package privacy

import (
	"fmt"
	"sort"
	"strings"
)

// SignatureSet holds the composite category combinations that flag a record
// even when no standalone category matched.
type SignatureSet struct {
	signatures []CategorySet
}

// DefaultSignatures is the built-in combination policy: any two identity
// signals among name, email, address, ip and device flag the record, except
// the device+ip pair, which on its own describes equipment rather than a
// person.
func DefaultSignatures() SignatureSet {
	pairs := [][]Category{
		{CategoryName, CategoryEmail},
		{CategoryName, CategoryAddress},
		{CategoryName, CategoryIPAddress},
		{CategoryName, CategoryDeviceID},
		{CategoryEmail, CategoryAddress},
		{CategoryEmail, CategoryIPAddress},
		{CategoryEmail, CategoryDeviceID},
		{CategoryAddress, CategoryIPAddress},
		{CategoryAddress, CategoryDeviceID},
	}
	sigs := make([]CategorySet, 0, len(pairs))
	for _, pair := range pairs {
		set := make(CategorySet, len(pair))
		for _, c := range pair {
			set.Add(c)
		}
		sigs = append(sigs, set)
	}
	return SignatureSet{signatures: sigs}
}

// ParseSignatures builds a signature set from configuration. Every entry
// needs at least two distinct known categories.
func ParseSignatures(raw [][]string) (SignatureSet, error) {
	sigs := make([]CategorySet, 0, len(raw))
	for i, entry := range raw {
		set := make(CategorySet, len(entry))
		for _, name := range entry {
			c := Category(strings.ToLower(strings.TrimSpace(name)))
			if !knownCategory(c) {
				return SignatureSet{}, fmt.Errorf("signature %d: unknown category: %s", i, name)
			}
			set.Add(c)
		}
		if len(set) < 2 {
			return SignatureSet{}, fmt.Errorf("signature %d: needs at least two distinct categories", i)
		}
		sigs = append(sigs, set)
	}
	return SignatureSet{signatures: sigs}, nil
}

// Evaluate reports whether some signature is fully contained in the matched
// set. Order-independent: only membership counts.
func (s SignatureSet) Evaluate(matched CategorySet) bool {
	if len(matched) == 0 {
		return false
	}
	for _, sig := range s.signatures {
		if matched.ContainsAll(sig) {
			return true
		}
	}
	return false
}

// Len returns the number of signatures.
func (s SignatureSet) Len() int {
	return len(s.signatures)
}

// Describe renders the signatures with each one's categories sorted, for
// display and policy fingerprinting.
func (s SignatureSet) Describe() [][]string {
	out := make([][]string, 0, len(s.signatures))
	for _, sig := range s.signatures {
		names := make([]string, 0, len(sig))
		for c := range sig {
			names = append(names, string(c))
		}
		sort.Strings(names)
		out = append(out, names)
	}
	return out
}
