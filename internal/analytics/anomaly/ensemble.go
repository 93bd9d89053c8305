package anomaly

import (
	"fmt"
	"sort"

	"github.com/soulsense/soulsense-outliers/internal/analytics/stats"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// VotingRule decides how many detector votes make an ensemble outlier.
type VotingRule string

const (
	// VoteMajority requires a strict majority: floor(n/2)+1 votes. With an
	// even number of detectors an exact half is NOT an outlier.
	VoteMajority VotingRule = "majority"
	// VoteAny requires a single vote.
	VoteAny VotingRule = "any"
	// VoteAll requires every detector to agree.
	VoteAll VotingRule = "all"
	// VoteAtLeast requires Policy.MinVotes votes.
	VoteAtLeast VotingRule = "at_least"
)

// Policy configures an ensemble run.
type Policy struct {
	// Methods to run; empty means AllMethods.
	Methods []Method `json:"methods" yaml:"methods"`
	// Rule defaults to VoteMajority. A positive MinVotes implies VoteAtLeast.
	Rule     VotingRule `json:"rule" yaml:"rule"`
	MinVotes int        `json:"min_votes,omitempty" yaml:"min_votes,omitempty"`
}

// DefaultPolicy runs all four detectors with a strict majority vote.
func DefaultPolicy() Policy {
	return Policy{Methods: append([]Method(nil), AllMethods...), Rule: VoteMajority}
}

// Normalize fills in defaults without validating.
func (p Policy) Normalize() Policy {
	out := p
	if len(out.Methods) == 0 {
		out.Methods = append([]Method(nil), AllMethods...)
	} else {
		out.Methods = append([]Method(nil), p.Methods...)
	}
	if out.MinVotes > 0 {
		out.Rule = VoteAtLeast
	}
	if out.Rule == "" {
		out.Rule = VoteMajority
	}
	return out
}

// Required returns the number of votes needed for n detectors.
func (p Policy) Required(n int) int {
	switch p.Rule {
	case VoteAny:
		return 1
	case VoteAll:
		return n
	case VoteAtLeast:
		return p.MinVotes
	default:
		return n/2 + 1
	}
}

// Validate checks a normalized policy.
func (p Policy) Validate() error {
	seen := make(map[Method]bool, len(p.Methods))
	for _, m := range p.Methods {
		switch m {
		case MethodZScore, MethodModifiedZScore, MethodIQR, MethodMAD:
		default:
			return &models.ConfigError{Field: "methods", Message: fmt.Sprintf("unknown detector %q", m)}
		}
		if seen[m] {
			return &models.ConfigError{Field: "methods", Message: fmt.Sprintf("detector %q listed twice", m)}
		}
		seen[m] = true
	}
	if len(p.Methods) == 0 {
		return &models.ConfigError{Field: "methods", Message: "at least one detector is required"}
	}

	switch p.Rule {
	case VoteMajority, VoteAny, VoteAll:
	case VoteAtLeast:
		if p.MinVotes < 1 || p.MinVotes > len(p.Methods) {
			return &models.ConfigError{
				Field:   "min_votes",
				Message: fmt.Sprintf("must be between 1 and %d, got %d", len(p.Methods), p.MinVotes),
			}
		}
	default:
		return &models.ConfigError{Field: "voting", Message: fmt.Sprintf("unknown voting rule %q", p.Rule)}
	}
	if p.MinVotes < 0 {
		return &models.ConfigError{Field: "min_votes", Message: fmt.Sprintf("must not be negative, got %d", p.MinVotes)}
	}
	return nil
}

// Consensus is the ensemble verdict for one sample point.
type Consensus struct {
	Ref                 stats.RecordRef `json:"record_ref" yaml:"record_ref"`
	Value               float64         `json:"score_value" yaml:"score_value"`
	VotesOutlier        int             `json:"votes_outlier" yaml:"votes_outlier"`
	VotesTotal          int             `json:"votes_total" yaml:"votes_total"`
	IsOutlier           bool            `json:"is_outlier" yaml:"is_outlier"`
	ContributingMethods []Method        `json:"contributing_methods" yaml:"contributing_methods"`
}

// EnsembleResult is the output of an ensemble run.
type EnsembleResult struct {
	Status    stats.Status `json:"status" yaml:"status"`
	Policy    Policy       `json:"policy" yaml:"policy"`
	Required  int          `json:"votes_required" yaml:"votes_required"`
	Consensus []Consensus  `json:"consensus" yaml:"consensus"`
	Results   []Result     `json:"detectors" yaml:"detectors"`
}

// OutlierCount returns how many points the ensemble flagged.
func (r EnsembleResult) OutlierCount() int {
	n := 0
	for _, c := range r.Consensus {
		if c.IsOutlier {
			n++
		}
	}
	return n
}

// Ensemble runs the policy's detectors over one shared summary and votes.
func Ensemble(sample stats.Sample, summary stats.Summary, t Thresholds, p Policy) (EnsembleResult, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return EnsembleResult{}, err
	}

	detectors := make([]Detector, 0, len(p.Methods))
	for _, m := range p.Methods {
		d, err := NewDetector(m, t)
		if err != nil {
			return EnsembleResult{}, err
		}
		detectors = append(detectors, d)
	}

	out := EnsembleResult{
		Status:    stats.StatusAnalyzed,
		Policy:    p,
		Required:  p.Required(len(detectors)),
		Consensus: make([]Consensus, sample.Len()),
		Results:   make([]Result, 0, len(detectors)),
	}

	insufficient := 0
	for _, d := range detectors {
		res := d.Detect(sample, summary)
		if res.Status == stats.StatusInsufficientData {
			insufficient++
		}
		out.Results = append(out.Results, res)
	}
	if insufficient == len(detectors) {
		out.Status = stats.StatusInsufficientData
	}

	for i, v := range sample.Values {
		c := Consensus{
			Ref:                 refAt(sample, i),
			Value:               v,
			VotesTotal:          len(detectors),
			ContributingMethods: []Method{},
		}
		for _, res := range out.Results {
			if res.Verdicts[i].IsOutlier {
				c.VotesOutlier++
				c.ContributingMethods = append(c.ContributingMethods, res.Method)
			}
		}
		sort.Slice(c.ContributingMethods, func(a, b int) bool {
			return c.ContributingMethods[a] < c.ContributingMethods[b]
		})
		c.IsOutlier = c.VotesOutlier >= out.Required
		out.Consensus[i] = c
	}
	return out, nil
}
