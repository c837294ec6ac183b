// Copyright (c) Microsoft. All rights reserved.

package agentframework

// UsageDetails counts the tokens of one model reply, or of a whole run
// when summed over its round trips.
type UsageDetails struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates o into u.
func (u *UsageDetails) Add(o UsageDetails) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
}

// IsZero reports whether no tokens were counted.
func (u UsageDetails) IsZero() bool { return u == UsageDetails{} }
