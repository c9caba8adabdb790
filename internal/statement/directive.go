package statement

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxStepSeconds bounds the step field of an interval directive.
const maxStepSeconds = 99

// directivePattern matches the trailing interval directive of a configured
// statement: "[base]" or "[base:max:step]", values in seconds.
var directivePattern = regexp.MustCompile(`\[\s*(\d+)\s*(?::\s*(\d+)\s*:\s*(\d+)\s*)?\]$`)

// IntervalPolicy is the base/max/step triple governing how a job's polling
// interval relaxes when its result set is quiet.
type IntervalPolicy struct {
	Base time.Duration
	Max  time.Duration
	Step time.Duration
}

// Adaptive reports whether the policy relaxes the interval toward Max.
func (p IntervalPolicy) Adaptive() bool {
	return p.Max > 0 && p.Step > 0
}

// String returns the directive form of the policy.
func (p IntervalPolicy) String() string {
	if p.Adaptive() {
		return fmt.Sprintf("[%d:%d:%d]",
			int(p.Base.Seconds()), int(p.Max.Seconds()), int(p.Step.Seconds()))
	}

	return fmt.Sprintf("[%d]", int(p.Base.Seconds()))
}

// ParseDirective extracts and validates the trailing interval directive from
// configured SQL text, returning the SQL with the directive stripped.
func ParseDirective(sqlText string) (string, IntervalPolicy, error) {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return "", IntervalPolicy{}, fmt.Errorf("statement SQL cannot be empty")
	}

	match := directivePattern.FindStringSubmatchIndex(trimmed)
	if match == nil {
		return "", IntervalPolicy{}, fmt.Errorf("missing interval directive, expected trailing [base] or [base:max:step]")
	}

	groups := directivePattern.FindStringSubmatch(trimmed)

	base, err := strconv.Atoi(groups[1])
	if err != nil || base <= 0 {
		return "", IntervalPolicy{}, fmt.Errorf("interval base must be a positive integer, got %q", groups[1])
	}

	policy := IntervalPolicy{
		Base: time.Duration(base) * time.Second,
	}

	if groups[2] != "" {
		maxVal, maxErr := strconv.Atoi(groups[2])
		if maxErr != nil {
			return "", IntervalPolicy{}, fmt.Errorf("invalid interval max %q", groups[2])
		}

		stepVal, stepErr := strconv.Atoi(groups[3])
		if stepErr != nil {
			return "", IntervalPolicy{}, fmt.Errorf("invalid interval step %q", groups[3])
		}

		if (maxVal == 0) != (stepVal == 0) {
			return "", IntervalPolicy{}, fmt.Errorf(
				"interval max and step must be both zero or both non-zero, got max=%d step=%d",
				maxVal, stepVal,
			)
		}

		if maxVal != 0 && maxVal <= base {
			return "", IntervalPolicy{}, fmt.Errorf(
				"interval max must be greater than base, got base=%d max=%d", base, maxVal,
			)
		}

		if stepVal > maxStepSeconds {
			return "", IntervalPolicy{}, fmt.Errorf(
				"interval step must be at most %d, got %d", maxStepSeconds, stepVal,
			)
		}

		policy.Max = time.Duration(maxVal) * time.Second
		policy.Step = time.Duration(stepVal) * time.Second
	}

	stripped := strings.TrimSpace(trimmed[:match[0]])
	if stripped == "" {
		return "", IntervalPolicy{}, fmt.Errorf("statement SQL cannot be empty")
	}

	return stripped, policy, nil
}
