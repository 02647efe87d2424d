// internal/browser/selector.go
package browser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Chain is an ordered list of CSS selector candidates for one logical page
// element. Platforms rename their DOM hooks between releases; a chain keeps
// older selectors as fallbacks behind the current one.
type Chain struct {
	// Role names the logical element (for logs and errors), e.g. "password input".
	Role string
	// Selectors are tried strictly in order; the first match wins.
	Selectors []string
}

// Resolve walks the chain and returns the first selector that matches a
// visible element. Each candidate gets the element timeout before the next is
// tried. When no candidate matches, the returned ElementNotFoundError lists
// every selector that was attempted, in order.
func (s *Session) Resolve(ctx context.Context, chain Chain) (string, error) {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	perCandidate := s.cfg.ElementTimeout
	if perCandidate <= 0 {
		perCandidate = 10 * time.Second
	}

	for _, selector := range chain.Selectors {
		attemptCtx, attemptCancel := context.WithTimeout(opCtx, perCandidate)
		err := chromedp.Run(attemptCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
		attemptCancel()

		if err == nil {
			s.logger.Debug("Selector resolved.",
				zap.String("role", chain.Role),
				zap.String("selector", selector))
			return selector, nil
		}

		// The session or the operation died; further candidates cannot succeed.
		if opCtx.Err() != nil {
			return "", opCtx.Err()
		}

		s.logger.Debug("Selector candidate missed, trying next.",
			zap.String("role", chain.Role),
			zap.String("selector", selector),
			zap.Error(err))
	}

	return "", NewElementNotFoundError(chain.Role, chain.Selectors)
}
