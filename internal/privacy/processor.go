package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/sanraksh/sanraksh/internal/config"
	"github.com/sanraksh/sanraksh/internal/logger"
)

// Engine wires the rule table, masker set and composite signatures into the
// per-record flow: classify each field in order, mask matches, evaluate
// composite signatures, scrub flagged records. Engines are immutable after
// NewEngine; share one across workers and swap the whole engine to change
// policy.
type Engine struct {
	table      *RuleTable
	classifier *Classifier
	maskers    *MaskerSet
	signatures SignatureSet
	composite  bool
	scrub      bool
	version    string
	logger     *logger.Logger
}

// NewEngine builds an engine from privacy configuration.
func NewEngine(cfg config.PrivacyConfig, log *logger.Logger) (*Engine, error) {
	table, err := BuildRules(cfg)
	if err != nil {
		return nil, fmt.Errorf("building rule table: %w", err)
	}

	signatures := DefaultSignatures()
	if len(cfg.Composite.Signatures) > 0 {
		signatures, err = ParseSignatures(cfg.Composite.Signatures)
		if err != nil {
			return nil, fmt.Errorf("parsing composite signatures: %w", err)
		}
	}

	e := &Engine{
		table:      table,
		classifier: NewClassifier(table),
		maskers:    NewMaskerSet(cfg.Masking),
		signatures: signatures,
		composite:  cfg.Composite.Enabled,
		scrub:      cfg.ScrubSweep,
		version:    policyVersion(cfg),
		logger:     log,
	}

	if log != nil {
		log.Info("Redaction engine initialized",
			zap.Int("rules", len(table.rules)),
			zap.Int("signatures", signatures.Len()),
			zap.Bool("composite", e.composite),
			zap.Bool("scrub_sweep", e.scrub),
			zap.String("policy_version", shortVersion(e.version)))
	}
	return e, nil
}

// Process classifies and redacts one record: Loaded -> Classified ->
// Redacted -> Emitted, no branches back. Reads only shared immutable state,
// so it is safe for concurrent use.
func (e *Engine) Process(rec Record) RecordResult {
	out := NewFieldMap()
	matched := make(CategorySet)
	var findings []Finding
	isPII := false

	for _, f := range rec.Fields.Items() {
		sval, ok := coerceValue(f.Value)
		if !ok {
			out.Set(f.Key, f.Value)
			continue
		}
		cat, found := e.classifier.classifyString(f.Key, sval)
		if !found {
			out.Set(f.Key, f.Value)
			continue
		}
		masked := e.maskers.Mask(cat, sval)
		out.Set(f.Key, masked)
		matched.Add(cat)
		if e.table.IsStandalone(cat) {
			isPII = true
		}
		findings = append(findings, Finding{Field: f.Key, Category: cat, Masked: masked})
	}

	if !isPII && e.composite && e.signatures.Evaluate(matched) {
		isPII = true
	}

	// A flagged record gets one more pass: a field classified as one
	// category may still carry another identifier later in its value.
	if isPII && e.scrub {
		for _, f := range out.Items() {
			if s, ok := f.Value.(string); ok {
				out.Set(f.Key, e.maskers.Sweep(s))
			}
		}
	}

	result := RecordResult{RecordID: rec.ID, Fields: out, IsPII: isPII, Findings: findings}
	if e.logger != nil {
		e.logger.LogRecordResult(rec.ID, result.Categories(), isPII)
	}
	return result
}

// PolicyVersion identifies the effective rule/mask/signature policy. Cache
// keys embed it so a policy change invalidates stored verdicts.
func (e *Engine) PolicyVersion() string {
	return e.version
}

// Rules describes the rule table in classification order.
func (e *Engine) Rules() []RuleInfo {
	return e.table.Rules()
}

// Signatures describes the active composite signatures.
func (e *Engine) Signatures() [][]string {
	return e.signatures.Describe()
}

func policyVersion(cfg config.PrivacyConfig) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%+v", cfg)))
	return hex.EncodeToString(sum[:])
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}
