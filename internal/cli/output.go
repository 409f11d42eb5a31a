package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// RuleSet is the document written by export and read by import.
type RuleSet struct {
	Rules []rules.FilterRule `yaml:"rules" json:"rules"`
}

// PrintRules outputs rules in the specified format
func PrintRules(w io.Writer, list []rules.FilterRule, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return PrintJSON(w, RuleSet{Rules: list})
	case FormatYAML:
		return PrintYAML(w, RuleSet{Rules: list})
	case FormatTable:
		return printRuleTable(w, list)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintRule outputs a single rule. The table form adds the filter tree
// below the summary row.
func PrintRule(w io.Writer, rule *rules.FilterRule, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return PrintJSON(w, rule)
	case FormatYAML:
		return PrintYAML(w, rule)
	case FormatTable:
		if err := printRuleTable(w, []rules.FilterRule{*rule}); err != nil {
			return err
		}
		fmt.Fprintln(w)
		return PrintTree(w, rule.Filters)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintTree writes an indented outline of a filter tree.
func PrintTree(w io.Writer, root rules.LogicNode) error {
	var err error
	rules.Walk(root, func(p rules.Path, n rules.LogicNode) bool {
		if err != nil {
			return false
		}
		_, err = fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", len(p)), describe(n))
		return true
	})
	return err
}

// PrintTrace writes an evaluation trace, one node per line.
func PrintTrace(w io.Writer, t engine.Trace, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return PrintJSON(w, t)
	case FormatYAML:
		return PrintYAML(w, t)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Path", "Node", "Result", "Outcome")
		var add func(t engine.Trace)
		add = func(t engine.Trace) {
			if err := table.Append(t.Path, t.NodeID, fmt.Sprintf("%v", t.Result), t.Outcome); err != nil {
				return
			}
			for _, c := range t.Children {
				add(c)
			}
		}
		add(t)
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func describe(n rules.LogicNode) string {
	if n.Type == rules.NodeGroup {
		return string(n.Operator)
	}
	return fmt.Sprintf("%s %s %q", n.Field, n.Condition, n.Value)
}

// PrintJSON writes data as indented JSON.
func PrintJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func PrintYAML(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

func printRuleTable(w io.Writer, list []rules.FilterRule) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "Source", "Destination", "Delivery", "Active", "AI", "Conditions")

	for _, r := range list {
		name := r.Name
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		_, conditions := rules.Count(r.Filters)
		if err := table.Append(
			r.ID,
			name,
			r.Source,
			r.Destination,
			string(r.DeliveryMethod),
			fmt.Sprintf("%v", r.IsActive),
			fmt.Sprintf("%v", r.AIConfig.Enabled),
			fmt.Sprintf("%d", conditions),
		); err != nil {
			return err
		}
	}

	return table.Render()
}
