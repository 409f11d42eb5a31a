package engine

import (
	"fmt"
	"math/rand"
	"regexp"
	"testing"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

func cond(id string, field rules.Field, cmp rules.Comparator, value string) rules.LogicNode {
	return rules.LogicNode{ID: id, Type: rules.NodeCondition, Field: field, Condition: cmp, Value: value}
}

func group(id string, op rules.LogicOperator, children ...rules.LogicNode) rules.LogicNode {
	if children == nil {
		children = []rules.LogicNode{}
	}
	return rules.LogicNode{ID: id, Type: rules.NodeGroup, Operator: op, Children: children}
}

func TestComparatorHandlers(t *testing.T) {
	tests := []struct {
		name    string
		cmp     rules.Comparator
		value   string
		operand string
		want    Outcome
	}{
		{name: "contains ignores case", cmp: rules.CmpContains, value: "URGENT: server down", operand: "urgent", want: OutcomeMatch},
		{name: "contains miss", cmp: rules.CmpContains, value: "all good", operand: "urgent", want: OutcomeNoMatch},
		{name: "contains empty operand", cmp: rules.CmpContains, value: "anything", operand: "", want: OutcomeMatch},
		{name: "not_contains true", cmp: rules.CmpNotContains, value: "hello", operand: "SPAM", want: OutcomeMatch},
		{name: "not_contains false", cmp: rules.CmpNotContains, value: "Spam offer", operand: "spam", want: OutcomeNoMatch},
		{name: "equals ignores case", cmp: rules.CmpEquals, value: "Spam_Hub", operand: "spam_hub", want: OutcomeMatch},
		{name: "equals is exact", cmp: rules.CmpEquals, value: "spam_hub2", operand: "spam_hub", want: OutcomeNoMatch},
		{name: "starts_with", cmp: rules.CmpStartsWith, value: "[URGENT] disk", operand: "[urgent]", want: OutcomeMatch},
		{name: "ends_with", cmp: rules.CmpEndsWith, value: "join #Crypto", operand: "#crypto", want: OutcomeMatch},
		{name: "ends_with miss", cmp: rules.CmpEndsWith, value: "#crypto now", operand: "#crypto", want: OutcomeNoMatch},
		{name: "regex ignores case", cmp: rules.CmpRegex, value: "Error: Exception in thread", operand: `^error:\s+exception`, want: OutcomeMatch},
		{name: "regex miss", cmp: rules.CmpRegex, value: "all good", operand: `\d{3}`, want: OutcomeNoMatch},
		{name: "regex invalid pattern", cmp: rules.CmpRegex, value: "abc", operand: "(", want: OutcomeInvalidPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, ok := getComparatorHandler(tt.cmp)
			if !ok {
				t.Fatalf("handler not found for %q", tt.cmp)
			}
			got, err := handler.Check(tt.value, tt.operand)
			if got != tt.want {
				t.Fatalf("Check() = %v, want %v", got, tt.want)
			}
			if (err != nil) != (tt.want == OutcomeInvalidPattern) {
				t.Fatalf("Check() err = %v", err)
			}
		})
	}
}

func TestRegex_MatchesOriginalCaseValue(t *testing.T) {
	msg := MessageRecord{MessageText: "abc"}
	if !Evaluate(cond("r", rules.FieldMessageText, rules.CmpRegex, "^[A-Z]+$"), msg) {
		t.Fatal("regex should be case-insensitive")
	}

	msg = MessageRecord{MessageText: "Server EU-WEST down"}
	if !Evaluate(cond("r", rules.FieldMessageText, rules.CmpRegex, `\bEU-WEST\b`), msg) {
		t.Fatal("regex should match original-case value")
	}
}

func TestEvaluate_EmptyGroupIsTrue(t *testing.T) {
	msgs := []MessageRecord{
		{},
		{MessageText: "anything", Sender: "alice_w"},
		{MessageText: "Make $5000/day", Sender: "spam_hub", ChatName: "Marketing"},
	}
	for _, op := range []rules.LogicOperator{rules.OpAnd, rules.OpOr, rules.LogicOperator("XOR")} {
		for _, msg := range msgs {
			if !Evaluate(group("root", op), msg) {
				t.Fatalf("empty %s group on %+v = false, want true", op, msg)
			}
		}
	}
}

func TestEvaluate_Scenario(t *testing.T) {
	tree := group("root", rules.OpAnd,
		cond("c1", rules.FieldMessageText, rules.CmpContains, "urgent"),
		group("g2", rules.OpOr,
			cond("c2", rules.FieldMessageText, rules.CmpContains, "server"),
			cond("c3", rules.FieldMessageText, rules.CmpContains, "database"),
		),
	)

	tests := []struct {
		text string
		want bool
	}{
		{"URGENT: server down", true},
		{"database maintenance window", false},
		{"urgent: database unreachable", true},
		{"urgent: coffee machine broken", false},
	}
	for _, tt := range tests {
		if got := Evaluate(tree, MessageRecord{MessageText: tt.text}); got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestEvaluate_SenderEqualsIgnoresCase(t *testing.T) {
	tree := group("root", rules.OpAnd, cond("c", rules.FieldSender, rules.CmpEquals, "spam_hub"))
	if !Evaluate(tree, MessageRecord{MessageText: "hi", Sender: "Spam_Hub"}) {
		t.Fatal("sender equals spam_hub should match Spam_Hub")
	}
}

func TestEvaluate_FieldMapping(t *testing.T) {
	msg := MessageRecord{MessageText: "text body", Sender: "bob_builder", ChatName: "Server Logs"}
	tests := []struct {
		name  string
		field rules.Field
		value string
		want  bool
	}{
		{"message_text", rules.FieldMessageText, "text body", true},
		{"empty field reads text", rules.Field(""), "text body", true},
		{"sender", rules.FieldSender, "bob_builder", true},
		{"chat_name", rules.FieldChatName, "server logs", true},
		{"unknown field reads empty", rules.Field("reply_to"), "", true},
		{"unknown field never equals text", rules.Field("reply_to"), "text body", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(cond("c", tt.field, rules.CmpEquals, tt.value), msg); got != tt.want {
				t.Fatalf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_UnknownOperatorActsAsOr(t *testing.T) {
	tree := group("root", rules.LogicOperator("XOR"),
		cond("a", rules.FieldMessageText, rules.CmpContains, "nope"),
		cond("b", rules.FieldMessageText, rules.CmpContains, "hello"),
	)
	if !Evaluate(tree, MessageRecord{MessageText: "hello"}) {
		t.Fatal("unknown operator should behave like OR")
	}
}

func TestEvaluate_NonGroupTypeIsCondition(t *testing.T) {
	n := rules.LogicNode{ID: "x", Type: rules.NodeType("leaf"), Field: rules.FieldSender, Condition: rules.CmpEquals, Value: "alice_w"}
	if !Evaluate(n, MessageRecord{Sender: "alice_w"}) {
		t.Fatal("node with unknown type should evaluate as a condition")
	}
}

func TestEvaluateWithDiagnostics(t *testing.T) {
	tree := group("root", rules.OpOr,
		cond("bad", rules.FieldMessageText, rules.CmpRegex, "([a-z"),
		cond("weird", rules.FieldMessageText, rules.Comparator("sounds_like"), "hello"),
		cond("ok", rules.FieldMessageText, rules.CmpContains, "hello"),
	)

	matched, diags := EvaluateWithDiagnostics(tree, MessageRecord{MessageText: "hello"})
	if !matched {
		t.Fatal("valid sibling should still match")
	}
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics, want 2: %+v", len(diags), diags)
	}
	if diags[0].NodeID != "bad" || diags[0].Kind != DiagInvalidRegex || diags[0].Pattern != "([a-z" {
		t.Fatalf("unexpected regex diagnostic: %+v", diags[0])
	}
	if diags[1].NodeID != "weird" || diags[1].Kind != DiagUnknownComparator {
		t.Fatalf("unexpected comparator diagnostic: %+v", diags[1])
	}

	if Evaluate(cond("bad", rules.FieldMessageText, rules.CmpRegex, "("), MessageRecord{MessageText: "("}) {
		t.Fatal("invalid regex must evaluate false")
	}
	if Evaluate(cond("weird", rules.FieldMessageText, rules.Comparator("sounds_like"), ""), MessageRecord{}) {
		t.Fatal("unknown comparator must evaluate false")
	}
}

func TestEvaluateWithDiagnostics_Clean(t *testing.T) {
	matched, diags := EvaluateWithDiagnostics(group("root", rules.OpAnd), MessageRecord{})
	if !matched || len(diags) != 0 {
		t.Fatalf("got %v, %v", matched, diags)
	}
}

// leafTree builds a random tree whose leaves are equals conditions against
// the sender "t"; a leaf is true iff its operand is "t".
func leafTree(rng *rand.Rand, depth int, counter *int) rules.LogicNode {
	*counter++
	id := string(rune('a'+*counter%26)) + string(rune('0'+*counter%10))
	if depth == 0 || rng.Intn(3) == 0 {
		operand := "f"
		if rng.Intn(2) == 0 {
			operand = "t"
		}
		return cond(id, rules.FieldSender, rules.CmpEquals, operand)
	}
	op := rules.OpAnd
	if rng.Intn(2) == 0 {
		op = rules.OpOr
	}
	g := group(id, op)
	for i := rng.Intn(4); i > 0; i-- {
		g.Children = append(g.Children, leafTree(rng, depth-1, counter))
	}
	return g
}

// reference evaluates leafTree output directly from the definition.
func reference(n rules.LogicNode) bool {
	if n.Type != rules.NodeGroup {
		return n.Value == "t"
	}
	if len(n.Children) == 0 {
		return true
	}
	allTrue, anyTrue := true, false
	for _, c := range n.Children {
		r := reference(c)
		allTrue = allTrue && r
		anyTrue = anyTrue || r
	}
	if n.Operator == rules.OpAnd {
		return allTrue
	}
	return anyTrue
}

func TestEvaluate_GroupSemanticsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	msg := MessageRecord{Sender: "T"}
	for i := 0; i < 500; i++ {
		counter := 0
		tree := leafTree(rng, 4, &counter)
		want := reference(tree)
		if got := Evaluate(tree, msg); got != want {
			t.Fatalf("iteration %d: Evaluate = %v, want %v\ntree: %+v", i, got, want, tree)
		}
		if got, _ := EvaluateWithDiagnostics(tree, msg); got != want {
			t.Fatalf("iteration %d: EvaluateWithDiagnostics = %v, want %v", i, got, want)
		}
		if got := Explain(tree, msg).Result; got != want {
			t.Fatalf("iteration %d: Explain = %v, want %v", i, got, want)
		}
	}
}

func TestExplain(t *testing.T) {
	tree := group("root", rules.OpAnd,
		cond("c1", rules.FieldMessageText, rules.CmpContains, "urgent"),
		group("g2", rules.OpOr,
			cond("c2", rules.FieldMessageText, rules.CmpContains, "server"),
			cond("c3", rules.FieldMessageText, rules.CmpRegex, "("),
		),
	)
	tr := Explain(tree, MessageRecord{MessageText: "urgent server"})
	if !tr.Result || tr.Path != "/" || len(tr.Children) != 2 {
		t.Fatalf("unexpected root trace: %+v", tr)
	}
	inner := tr.Children[1]
	if inner.Path != "/1" || !inner.Result {
		t.Fatalf("unexpected group trace: %+v", inner)
	}
	if inner.Children[0].Outcome != "match" || inner.Children[1].Outcome != "invalid_pattern" {
		t.Fatalf("unexpected leaf outcomes: %+v", inner.Children)
	}
	if inner.Children[1].Path != "/1/1" || inner.Children[1].NodeID != "c3" {
		t.Fatalf("unexpected leaf trace: %+v", inner.Children[1])
	}
}

func TestEvaluate_DoesNotMutateMessage(t *testing.T) {
	msg := MessageRecord{MessageText: "URGENT", Sender: "Admin_Bot"}
	before := msg
	Evaluate(group("root", rules.OpAnd, cond("c", rules.FieldMessageText, rules.CmpContains, "urgent")), msg)
	if msg != before {
		t.Fatal("message mutated")
	}
}

func TestMatchRules(t *testing.T) {
	urgent := group("root", rules.OpAnd, cond("c", rules.FieldMessageText, rules.CmpContains, "urgent"))
	candidates := []rules.FilterRule{
		{ID: "1", Source: "-100", IsActive: true, Filters: urgent},
		{ID: "2", Source: "-100", IsActive: false, Filters: urgent},
		{ID: "3", Source: "-200", IsActive: true, Filters: urgent},
		{ID: "4", Source: "-100", IsActive: true, Filters: group("root", rules.OpAnd, cond("c", rules.FieldSender, rules.CmpEquals, "nobody"))},
		{ID: "5", Source: "-100", IsActive: true, Filters: group("root", rules.OpAnd)},
	}
	msg := MessageRecord{MessageText: "URGENT: db", Sender: "system_monitor"}

	got, diags := MatchRules(candidates, "-100", msg)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %+v", diags)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "5" {
		t.Fatalf("MatchRules(-100) = %+v", ids(got))
	}

	all, _ := MatchRules(candidates, "", msg)
	if len(all) != 3 {
		t.Fatalf("MatchRules(all) = %v, want [1 3 5]", ids(all))
	}
}

func TestMatchRules_BrokenRegexIsTaggedWithRule(t *testing.T) {
	candidates := []rules.FilterRule{
		{ID: "7", IsActive: true, Filters: group("root", rules.OpOr, cond("bad", rules.FieldMessageText, rules.CmpRegex, "("))},
		{ID: "8", IsActive: true, Filters: group("root", rules.OpAnd)},
	}

	got, diags := MatchRules(candidates, "", MessageRecord{MessageText: "("})
	if len(got) != 1 || got[0].ID != "8" {
		t.Fatalf("MatchRules = %v, want [8]", ids(got))
	}
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %+v, want one", diags)
	}
	if d := diags[0]; d.RuleID != "7" || d.NodeID != "bad" || d.Kind != DiagInvalidRegex {
		t.Fatalf("diagnostic = %+v", d)
	}
}

func ids(rs []rules.FilterRule) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestRegexCache_IsBounded(t *testing.T) {
	c := newRegexCache(3)
	for _, p := range []string{"a", "b", "c"} {
		c.put(p, regexp.MustCompile(p))
	}
	// touching "a" makes "b" the oldest entry
	if _, ok := c.get("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.put("d", regexp.MustCompile("d"))
	c.put("d", regexp.MustCompile("d"))

	if n := c.len(); n != 3 {
		t.Fatalf("cache holds %d patterns, want 3", n)
	}
	if _, ok := c.get("b"); ok {
		t.Fatal("least recently used pattern was not evicted")
	}
	for _, p := range []string{"a", "c", "d"} {
		if _, ok := c.get(p); !ok {
			t.Fatalf("%s should still be cached", p)
		}
	}
}

func TestCompiledPatterns_StayBoundedUnderDistinctOperands(t *testing.T) {
	for i := 0; i < regexCacheSize*2; i++ {
		if _, err := getCompiledRegex(fmt.Sprintf("^item-%d$", i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := getCompiledRegex("(broken"); err == nil {
		t.Fatal("expected compile error")
	}
	if n := compiledPatterns.len(); n > regexCacheSize {
		t.Fatalf("cache grew to %d, bound is %d", n, regexCacheSize)
	}
}
