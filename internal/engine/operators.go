package engine

import (
	"container/list"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

// ComparatorHandler evaluates one condition comparator against the
// resolved field value and the condition operand.
type ComparatorHandler interface {
	Check(fieldValue, operand string) (Outcome, error)
}

var (
	comparatorHandlers = map[rules.Comparator]ComparatorHandler{
		rules.CmpContains:    containsHandler{},
		rules.CmpNotContains: notContainsHandler{},
		rules.CmpEquals:      equalsHandler{},
		rules.CmpStartsWith:  startsWithHandler{},
		rules.CmpEndsWith:    endsWithHandler{},
		rules.CmpRegex:       regexHandler{},
	}
	compiledPatterns = newRegexCache(regexCacheSize)
)

// regexCacheSize bounds the compiled patterns kept across evaluations.
// Operands are user supplied.
const regexCacheSize = 512

func getComparatorHandler(c rules.Comparator) (ComparatorHandler, bool) {
	h, ok := comparatorHandlers[c]
	return h, ok
}

func outcomeOf(ok bool) Outcome {
	if ok {
		return OutcomeMatch
	}
	return OutcomeNoMatch
}

type containsHandler struct{}

func (containsHandler) Check(fieldValue, operand string) (Outcome, error) {
	return outcomeOf(strings.Contains(normalizeCase(fieldValue), normalizeCase(operand))), nil
}

type notContainsHandler struct{}

func (notContainsHandler) Check(fieldValue, operand string) (Outcome, error) {
	return outcomeOf(!strings.Contains(normalizeCase(fieldValue), normalizeCase(operand))), nil
}

type equalsHandler struct{}

func (equalsHandler) Check(fieldValue, operand string) (Outcome, error) {
	return outcomeOf(normalizeCase(fieldValue) == normalizeCase(operand)), nil
}

type startsWithHandler struct{}

func (startsWithHandler) Check(fieldValue, operand string) (Outcome, error) {
	return outcomeOf(strings.HasPrefix(normalizeCase(fieldValue), normalizeCase(operand))), nil
}

type endsWithHandler struct{}

func (endsWithHandler) Check(fieldValue, operand string) (Outcome, error) {
	return outcomeOf(strings.HasSuffix(normalizeCase(fieldValue), normalizeCase(operand))), nil
}

// regexHandler matches the raw operand case-insensitively against the
// original-case field value. The operand uses RE2 syntax.
type regexHandler struct{}

func (regexHandler) Check(fieldValue, operand string) (Outcome, error) {
	rx, err := getCompiledRegex(operand)
	if err != nil {
		return OutcomeInvalidPattern, err
	}
	return outcomeOf(rx.MatchString(fieldValue)), nil
}

func getCompiledRegex(pattern string) (*regexp.Regexp, error) {
	if rx, ok := compiledPatterns.get(pattern); ok {
		return rx, nil
	}

	rx, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	compiledPatterns.put(pattern, rx)
	return rx, nil
}

// regexCache is a fixed-size LRU of compiled case-insensitive patterns keyed
// by raw operand. Patterns that fail to compile are never stored.
type regexCache struct {
	mu    sync.Mutex
	size  int
	order *list.List // front is most recently used
	items map[string]*list.Element
}

type cachedRegex struct {
	pattern string
	rx      *regexp.Regexp
}

func newRegexCache(size int) *regexCache {
	return &regexCache{
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element, size),
	}
}

func (c *regexCache) get(pattern string) (*regexp.Regexp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[pattern]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cachedRegex).rx, true
}

func (c *regexCache) put(pattern string, rx *regexp.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[pattern]; ok {
		c.order.MoveToFront(el)
		return
	}
	c.items[pattern] = c.order.PushFront(&cachedRegex{pattern: pattern, rx: rx})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cachedRegex).pattern)
	}
}

func (c *regexCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// normalizeCase is the single case policy for the plain string comparators.
func normalizeCase(value string) string {
	return strings.ToLower(value)
}
