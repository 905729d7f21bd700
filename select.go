// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swapquote

// SelectBest picks the route with the largest output amount, which is the
// best route for an ExactIn swap. Among equal outputs the winner is whichever
// provider map iteration yields first; callers must not rely on it.
func SelectBest(quotes map[string]SwapRoute) (string, SwapRoute, error) {
	var (
		bestProvider string
		best         SwapRoute
		found        bool
	)
	for provider, route := range quotes {
		if !found || route.OutAmount > best.OutAmount {
			bestProvider, best, found = provider, route, true
		}
	}
	if !found {
		return "", SwapRoute{}, ErrNoQuotes
	}
	return bestProvider, best, nil
}
