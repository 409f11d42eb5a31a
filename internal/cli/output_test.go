package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

func sampleRule() rules.FilterRule {
	return rules.FilterRule{
		ID:             "7",
		Name:           "Outages",
		Source:         "@ops",
		Destination:    "@oncall",
		DeliveryMethod: rules.DeliveryCopy,
		IsActive:       true,
		Filters: rules.LogicNode{ID: "root", Type: rules.NodeGroup, Operator: rules.OpAnd, Children: []rules.LogicNode{
			{ID: "c1", Type: rules.NodeCondition, Field: rules.FieldMessageText, Condition: rules.CmpContains, Value: "outage"},
			{ID: "g1", Type: rules.NodeGroup, Operator: rules.OpOr, Children: []rules.LogicNode{
				{ID: "c2", Type: rules.NodeCondition, Field: rules.FieldSender, Condition: rules.CmpEquals, Value: "pager"},
			}},
		}},
	}
}

func TestPrintRules_Formats(t *testing.T) {
	list := []rules.FilterRule{sampleRule()}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintRules(&buf, list, FormatJSON))
		var got RuleSet
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got.Rules, 1)
		assert.Equal(t, "Outages", got.Rules[0].Name)
		assert.Len(t, got.Rules[0].Filters.Children, 2)
	})

	t.Run("yaml round trip", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintRules(&buf, list, FormatYAML))
		var got RuleSet
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
		require.Len(t, got.Rules, 1)
		assert.Equal(t, rules.DeliveryCopy, got.Rules[0].DeliveryMethod)
		assert.Equal(t, rules.Fingerprint(list[0].Filters), rules.Fingerprint(got.Rules[0].Filters))
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintRules(&buf, list, FormatTable))
		out := buf.String()
		for _, want := range []string{"Outages", "@ops", "@oncall", "copy"} {
			assert.Contains(t, out, want)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, PrintRules(&bytes.Buffer{}, list, OutputFormat("xml")))
	})
}

func TestPrintTree(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintTree(&buf, sampleRule().Filters))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"AND",
		`  message_text contains "outage"`,
		"  OR",
		`    sender equals "pager"`,
	}
	assert.Equal(t, want, lines)
}

func TestPrintTrace_Table(t *testing.T) {
	tree := sampleRule().Filters
	trace := engine.Explain(tree, engine.MessageRecord{MessageText: "big outage", Sender: "pager"})

	var buf bytes.Buffer
	require.NoError(t, PrintTrace(&buf, trace, FormatTable))
	out := buf.String()
	for _, id := range []string{"root", "c1", "g1", "c2"} {
		assert.Contains(t, out, id)
	}
}
