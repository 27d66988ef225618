package policy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name    string
		verdict Verdict
		mode    Mode
		allowed bool
		reason  Reason
	}{
		{"allow benign strict", Verdict{Category: "benign", Action: ActionAllow}, ModeStrict, true, ReasonNone},
		{"block benign is vetoed", Verdict{Category: "benign", Action: ActionBlock}, ModeStrict, false, ReasonActionBlock},
		{"block benign vetoed in action_only", Verdict{Category: "benign", Action: ActionBlock}, ModeActionOnly, false, ReasonActionBlock},
		{"allow suspicious strict", Verdict{Category: "suspicious", Action: ActionAllow}, ModeStrict, false, ReasonNotBenign},
		{"allow suspicious action_only", Verdict{Category: "suspicious", Action: ActionAllow}, ModeActionOnly, true, ReasonNone},
		{"allow malicious strict", Verdict{Category: "malicious", Action: ActionAllow}, ModeStrict, false, ReasonNotBenign},
		{"unknown action", Verdict{Category: "benign", Action: "quarantine"}, ModeActionOnly, false, ReasonUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.verdict, tt.mode)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestProperty_BlockIsAlwaysAVeto(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	modes := gen.OneConstOf(ModeStrict, ModeActionOnly)

	properties.Property("block is rejected regardless of category and mode", prop.ForAll(
		func(category string, mode Mode) bool {
			return !Decide(Verdict{Category: category, Action: ActionBlock}, mode).Allowed
		},
		gen.OneGenOf(gen.AlphaString(), gen.Const(CategoryBenign)),
		modes,
	))

	properties.Property("strict mode allows only benign", prop.ForAll(
		func(category string) bool {
			d := Decide(Verdict{Category: category, Action: ActionAllow}, ModeStrict)
			return d.Allowed == (category == CategoryBenign)
		},
		gen.OneGenOf(gen.AlphaString(), gen.Const(CategoryBenign)),
	))

	properties.Property("strict mode never allows more than action_only", prop.ForAll(
		func(category string, block bool) bool {
			v := Verdict{Category: category, Action: ActionAllow}
			if block {
				v.Action = ActionBlock
			}
			return !Decide(v, ModeStrict).Allowed || Decide(v, ModeActionOnly).Allowed
		},
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	m, err = ParseMode("action_only")
	require.NoError(t, err)
	assert.Equal(t, ModeActionOnly, m)

	_, err = ParseMode("lenient")
	assert.Error(t, err)
}
