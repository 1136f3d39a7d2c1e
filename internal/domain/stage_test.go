package domain_test

import (
	"testing"
	"time"

	"github.com/stagegate/stagegate/internal/domain"
)

func TestStageOrder(t *testing.T) {
	if _, ok := domain.StageDev.Previous(); ok {
		t.Error("dev should have no previous stage")
	}

	prev, ok := domain.StageStaging.Previous()
	if !ok || prev != domain.StageDev {
		t.Errorf("staging.Previous() = %q, %v, want dev, true", prev, ok)
	}

	prev, ok = domain.StageProduction.Previous()
	if !ok || prev != domain.StageStaging {
		t.Errorf("production.Previous() = %q, %v, want staging, true", prev, ok)
	}

	next, ok := domain.StageDev.Next()
	if !ok || next != domain.StageStaging {
		t.Errorf("dev.Next() = %q, %v, want staging, true", next, ok)
	}

	if _, ok := domain.StageProduction.Next(); ok {
		t.Error("production should have no next stage")
	}
}

func TestStageValid(t *testing.T) {
	for _, name := range domain.StageOrder {
		if !name.Valid() {
			t.Errorf("stage %q should be valid", name)
		}
	}
	if domain.StageName("qa").Valid() {
		t.Error("unknown stage should not be valid")
	}
	if domain.StageName("").Valid() {
		t.Error("empty stage should not be valid")
	}
}

func TestPolicyTable_For(t *testing.T) {
	policies := domain.PolicyTable{
		domain.StageStaging: {MinApprovals: 3, Soak: time.Minute},
	}

	got := policies.For(domain.StageStaging)
	if got.MinApprovals != 3 || got.Soak != time.Minute {
		t.Errorf("For(staging) = %+v, want {3 1m0s}", got)
	}

	// Missing stages fall back to a closed gate rather than an open one.
	got = policies.For(domain.StageProduction)
	if got.MinApprovals != 1 || got.Soak != 0 {
		t.Errorf("For(production) = %+v, want {1 0s}", got)
	}
}

func TestDefaultPolicies_CoverAllStages(t *testing.T) {
	policies := domain.DefaultPolicies()
	for _, name := range domain.StageOrder {
		if _, ok := policies[name]; !ok {
			t.Errorf("default policies missing stage %q", name)
		}
	}
	if policies[domain.StageDev].MinApprovals != 0 {
		t.Error("dev should deploy without approvals by default")
	}
	if policies[domain.StageProduction].MinApprovals <= policies[domain.StageStaging].MinApprovals {
		t.Error("production gate should be stricter than staging")
	}
}

func TestReleaseStatus_InFlight(t *testing.T) {
	inFlight := map[domain.ReleaseStatus]bool{
		domain.ReleaseStatusPendingApproval: true,
		domain.ReleaseStatusDeploying:       true,
		domain.ReleaseStatusHealthy:         false,
		domain.ReleaseStatusFailed:          false,
		domain.ReleaseStatusRolledBack:      false,
	}
	for status, want := range inFlight {
		if got := status.InFlight(); got != want {
			t.Errorf("%s.InFlight() = %v, want %v", status, got, want)
		}
	}
}

func TestRelease_HasApprover(t *testing.T) {
	rel := domain.Release{
		Approvals: []domain.Approval{
			{ApproverID: "alice"},
			{ApproverID: "bob"},
		},
	}
	if !rel.HasApprover("alice") {
		t.Error("expected alice to be an approver")
	}
	if rel.HasApprover("carol") {
		t.Error("carol should not be an approver")
	}
}
