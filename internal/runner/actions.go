package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

// buildAction translates one test-step string into a chromedp action.
//
// The step grammar is a verb followed by space-separated arguments; the
// final argument may contain spaces:
//
//	navigate <url>
//	click <selector>
//	type <selector> <text>
//	submit <selector>
//	wait <selector>
//	assert_text <selector> <expected substring>
//	assert_visible <selector>
//	eval <javascript expression>   (fails when the expression is falsy)
func buildAction(step schemas.TestStep) (chromedp.Action, error) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(step.Action), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "navigate":
		if rest == "" {
			return nil, fmt.Errorf("navigate requires a URL")
		}
		return chromedp.Navigate(rest), nil

	case "click":
		if rest == "" {
			return nil, fmt.Errorf("click requires a selector")
		}
		return chromedp.Click(rest, chromedp.ByQuery), nil

	case "type":
		selector, text, found := strings.Cut(rest, " ")
		if !found || selector == "" {
			return nil, fmt.Errorf("type requires a selector and text")
		}
		return chromedp.SendKeys(selector, text, chromedp.ByQuery), nil

	case "submit":
		if rest == "" {
			return nil, fmt.Errorf("submit requires a selector")
		}
		return chromedp.Submit(rest, chromedp.ByQuery), nil

	case "wait":
		if rest == "" {
			return nil, fmt.Errorf("wait requires a selector")
		}
		return chromedp.WaitVisible(rest, chromedp.ByQuery), nil

	case "assert_visible":
		if rest == "" {
			return nil, fmt.Errorf("assert_visible requires a selector")
		}
		return chromedp.WaitVisible(rest, chromedp.ByQuery), nil

	case "assert_text":
		selector, want, found := strings.Cut(rest, " ")
		if want == "" && step.Expected != "" {
			want = step.Expected
			found = true
		}
		if !found || selector == "" || want == "" {
			return nil, fmt.Errorf("assert_text requires a selector and expected text")
		}
		return assertTextAction(selector, want), nil

	case "eval":
		if rest == "" {
			return nil, fmt.Errorf("eval requires an expression")
		}
		return evalTruthyAction(rest), nil

	default:
		return nil, fmt.Errorf("unknown step action %q", verb)
	}
}

// assertTextAction waits for the element and checks that its text contains
// the expected substring.
func assertTextAction(selector, want string) chromedp.Action {
	return chromedp.Tasks{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var got string
			if err := chromedp.Text(selector, &got, chromedp.ByQuery).Do(ctx); err != nil {
				return err
			}
			if !strings.Contains(got, want) {
				return fmt.Errorf("element %q text %q does not contain %q", selector, truncate(got, 200), want)
			}
			return nil
		}),
	}
}

// evalTruthyAction evaluates an expression in the page and fails the step
// when the result is falsy.
func evalTruthyAction(expr string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var ok bool
		wrapped := fmt.Sprintf("Boolean(%s)", expr)
		if err := chromedp.Evaluate(wrapped, &ok).Do(ctx); err != nil {
			return fmt.Errorf("eval %q: %w", expr, err)
		}
		if !ok {
			return fmt.Errorf("eval %q returned falsy", expr)
		}
		return nil
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
