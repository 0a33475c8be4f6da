package auth

import (
	"testing"
	"time"
)

func TestIssueAndParseRoundTrip(t *testing.T) {
	pair, err := Issue("ST1", "Ada", RoleStudent, "rollcall-test", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	claims, err := Parse(pair.AccessToken, "test-key", "rollcall-test")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if claims.Subject != "ST1" || claims.Name != "Ada" || claims.Role != RoleStudent {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	if _, err := Issue("U1", "", "admin", "iss", "key", time.Minute, time.Hour); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestParseRejectsWrongKeyAndIssuer(t *testing.T) {
	pair, err := Issue("T1", "Grace", RoleTeacher, "rollcall-test", "test-key", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := Parse(pair.AccessToken, "other-key", "rollcall-test"); err == nil {
		t.Fatalf("expected error for wrong key")
	}
	if _, err := Parse(pair.AccessToken, "test-key", "someone-else"); err == nil {
		t.Fatalf("expected error for wrong issuer")
	}
}
