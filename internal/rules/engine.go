// Package rules rewrites recognized transcripts with user-defined literal and
// regular-expression substitutions before they are submitted.
package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

const defaultIterationLimit = 30

// ErrNotStable is returned when the rules keep rewriting the text after the
// iteration limit.
var ErrNotStable = errors.New("substitution rules did not settle")

type compiledRule interface {
	Apply(input string) (output string, changed bool)
}

// File is the on-disk rules document.
//
//	rules:
//	  - match: pull request
//	    replace: PR
//	  - pattern: '\bdeep\s*gram\b'
//	    replace: Deepgram
//	    global: true
//	  - sed: s/todo/TODO/g
type File struct {
	Rules []Rule `yaml:"rules"`
}

// Rule is one substitution. Exactly one of Match, Pattern or Sed is set.
// Literal and pattern rules ignore case unless CaseSensitive is set.
type Rule struct {
	Match         string `yaml:"match"`
	Pattern       string `yaml:"pattern"`
	Sed           string `yaml:"sed"`
	Replace       string `yaml:"replace"`
	Global        bool   `yaml:"global"`
	CaseSensitive bool   `yaml:"case_sensitive"`
}

// Engine applies deterministic substitutions loaded from a rules file.
type Engine struct {
	rules     []compiledRule
	loopLimit int
}

// NewEngine loads and compiles rules from a YAML file. A path containing glob
// metacharacters (including **) loads every matching file in lexical order.
// A blank path or a missing file yields an engine that returns text unchanged.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Compile(nil, loopLimit)
	}

	paths := []string{path}
	if isPattern(path) {
		matches, err := doublestar.FilepathGlob(path)
		if err != nil {
			return nil, fmt.Errorf("invalid rules pattern %q: %w", path, err)
		}
		sort.Strings(matches)
		paths = matches
	}

	var rules []Rule
	for _, p := range paths {
		loaded, err := readRules(p)
		if err != nil {
			return nil, err
		}
		rules = append(rules, loaded...)
	}
	return Compile(rules, loopLimit)
}

func isPattern(path string) bool {
	if !strings.ContainsAny(path, "*?[{") {
		return false
	}
	_, err := os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}

func readRules(path string) ([]Rule, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	if _, err := Compile(file.Rules, 0); err != nil {
		return nil, fmt.Errorf("rules file %q: %w", path, err)
	}
	return file.Rules, nil
}

// Compile builds an engine from rules already in memory.
func Compile(rules []Rule, loopLimit int) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = defaultIterationLimit
	}

	compiled := make([]compiledRule, 0, len(rules))
	for index, rule := range rules {
		c, err := compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", index+1, err)
		}
		compiled = append(compiled, c)
	}
	return &Engine{rules: compiled, loopLimit: loopLimit}, nil
}

// Len reports how many rules are loaded.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply runs every rule in order, repeating the pass until nothing changes.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.rules) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, rule := range e.rules {
			next, ruleChanged := rule.Apply(result)
			if ruleChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}

	return "", fmt.Errorf("%w after %d passes", ErrNotStable, e.loopLimit)
}

func compileRule(rule Rule) (compiledRule, error) {
	set := 0
	for _, field := range []string{rule.Match, rule.Pattern, rule.Sed} {
		if field != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of match, pattern or sed is required")
	}

	switch {
	case rule.Match != "":
		return compileLiteralRule(rule)
	case rule.Pattern != "":
		return compilePatternRule(rule.Pattern, rule.Replace, !rule.CaseSensitive, false, false, rule.Global)
	default:
		return parseSedRule(strings.TrimSpace(rule.Sed))
	}
}

type literalRule struct {
	replacement string
	re          *regexp.Regexp
}

func compileLiteralRule(rule Rule) (compiledRule, error) {
	from := strings.TrimSpace(rule.Match)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	pattern := regexp.QuoteMeta(from)
	if !rule.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}

	return literalRule{replacement: rule.Replace, re: re}, nil
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func compilePatternRule(pattern, replacement string, ignoreCase, multiLine, dotAll, global bool) (compiledRule, error) {
	prefixFlags := ""
	if ignoreCase {
		prefixFlags += "i"
	}
	if multiLine {
		prefixFlags += "m"
	}
	if dotAll {
		prefixFlags += "s"
	}
	if prefixFlags != "" {
		pattern = "(?" + prefixFlags + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}

	return regexRule{re: re, replacement: replacement, global: global}, nil
}

// parseSedRule reads s<d>pattern<d>replacement<d>flags, where flags is any
// of i, g, m and s. Patterns ignore case by default.
func parseSedRule(line string) (compiledRule, error) {
	if len(line) < 2 || line[0] != 's' {
		return nil, errors.New("sed rule must start with s and a delimiter")
	}
	delim := line[1]
	if isAlphaNumericOrSpace(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	var global, multiLine, dotAll bool
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm':
			multiLine = true
		case 's':
			dotAll = true
		case ' ':
			continue
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	return compilePatternRule(pattern, replacement, true, multiLine, dotAll, global)
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}

	replaced := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(replaced) + input[loc[1]:]
	return output, output != input
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		if escaped {
			builder.WriteByte(char)
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			builder.WriteByte(char)
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isAlphaNumericOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ' ' || char == '\t'
}
