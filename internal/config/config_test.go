package config_test

import (
	"strings"
	"testing"
	"time"

	"plenario/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("leg-1")))
	if err != nil {
		t.Fatalf("default template must validate: %v", err)
	}
	if cfg.Chamber.Period != "leg-1" {
		t.Fatalf("expected period leg-1, got %s", cfg.Chamber.Period)
	}
	if cfg.SessionWeekday() != time.Monday {
		t.Fatalf("expected Monday, got %s", cfg.SessionWeekday())
	}
	h, m := cfg.SessionClock()
	if h != 19 || m != 0 {
		t.Fatalf("expected 19:00, got %d:%02d", h, m)
	}
	if !cfg.IsRecessMonth(time.January) || cfg.IsRecessMonth(time.March) {
		t.Fatalf("unexpected recess months")
	}
}

func TestPolicyForFallsBackToDefault(t *testing.T) {
	cfg := config.Default("leg-1")
	p := cfg.PolicyFor("requerimento")
	if p.Majority != "simple" || !p.CastingVote {
		t.Fatalf("expected default policy, got %+v", p)
	}
	veto := cfg.PolicyFor("veto")
	if veto.Majority != "qualified" {
		t.Fatalf("expected qualified veto policy, got %+v", veto)
	}
	num, den, err := veto.Threshold()
	if err != nil || num != 2 || den != 3 {
		t.Fatalf("expected 2/3, got %d/%d err=%v", num, den, err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing period",
			yaml: "chamber:\n  name: Camara\n",
			want: "period",
		},
		{
			name: "bad weekday",
			yaml: "chamber:\n  period: leg-1\nsessions:\n  weekday: someday\n",
			want: "weekday",
		},
		{
			name: "bad recess month",
			yaml: "chamber:\n  period: leg-1\nsessions:\n  recess_months: [13]\n",
			want: "recess_months",
		},
		{
			name: "qualified without threshold",
			yaml: "chamber:\n  period: leg-1\nvoting:\n  default:\n    majority: qualified\n",
			want: "qualified_threshold",
		},
		{
			name: "threshold not above half",
			yaml: "chamber:\n  period: leg-1\nvoting:\n  kinds:\n    veto:\n      majority: qualified\n      qualified_threshold: 1/2\n",
			want: "not above half",
		},
		{
			name: "webhook without url",
			yaml: "chamber:\n  period: leg-1\nwebhooks:\n  - secret: s\n",
			want: "url",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(c.yaml))
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("expected error mentioning %q, got %v", c.want, err)
			}
		})
	}
}
