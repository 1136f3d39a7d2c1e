package domain

import "time"

// StageName identifies a deployment environment. Stages form a fixed
// total order: dev < staging < production.
type StageName string

const (
	StageDev        StageName = "dev"
	StageStaging    StageName = "staging"
	StageProduction StageName = "production"
)

// StageOrder lists all stages in promotion order.
var StageOrder = []StageName{StageDev, StageStaging, StageProduction}

// Valid reports whether s names a known stage.
func (s StageName) Valid() bool {
	for _, name := range StageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// Previous returns the stage an artifact must be healthy at before it may
// be promoted to s. ok is false for the first stage.
func (s StageName) Previous() (prev StageName, ok bool) {
	for i, name := range StageOrder {
		if s == name && i > 0 {
			return StageOrder[i-1], true
		}
	}
	return "", false
}

// Next returns the stage that follows s, if any.
func (s StageName) Next() (next StageName, ok bool) {
	for i, name := range StageOrder {
		if s == name && i < len(StageOrder)-1 {
			return StageOrder[i+1], true
		}
	}
	return "", false
}

// Stage is a deployment environment with a pointer to its currently
// active release. An empty ActiveRelease means nothing has been confirmed
// healthy at this stage yet.
type Stage struct {
	Name          StageName
	ActiveRelease ReleaseID
}

// StagePolicy is the approval gate for one stage.
type StagePolicy struct {
	MinApprovals int           `yaml:"min_approvals"`
	Soak         time.Duration `yaml:"soak"`
}

// PolicyTable maps each stage to its approval policy. Policy is
// configuration data, not code: adding a stage means adding a row.
type PolicyTable map[StageName]StagePolicy

// DefaultPolicies returns the built-in policy table: dev deploys
// unguarded, staging wants one approval and a short soak, production
// wants two approvals and a longer soak.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		StageDev:        {MinApprovals: 0, Soak: 0},
		StageStaging:    {MinApprovals: 1, Soak: 60 * time.Second},
		StageProduction: {MinApprovals: 2, Soak: 5 * time.Minute},
	}
}

// For returns the policy for the given stage, falling back to a closed
// gate (one approval, no soak) for stages missing from the table.
func (p PolicyTable) For(stage StageName) StagePolicy {
	if policy, ok := p[stage]; ok {
		return policy
	}
	return StagePolicy{MinApprovals: 1}
}
