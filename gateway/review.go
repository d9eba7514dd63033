// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "time"

// Scheduler computes the next due time of a reviewed note. The
// scheduling arithmetic is a pluggable collaborator; the gateway only
// frames the exchange.
type Scheduler interface {
	// NextDue returns when notePath should next be reviewed, given the
	// grade (0 worst to 5 best) the user just assigned at time now.
	NextDue(notePath string, grade int, now time.Time) time.Time
}

// reviewIntervals maps grades 0..5 to review intervals. Failing grades
// bring the note back within the session; passing grades back off
// roughly geometrically.
var reviewIntervals = [6]time.Duration{
	10 * time.Minute,
	30 * time.Minute,
	12 * time.Hour,
	24 * time.Hour,
	3 * 24 * time.Hour,
	7 * 24 * time.Hour,
}

// IntervalScheduler is the default grade-indexed interval ladder. It
// is stateless: the due time depends only on the grade and the review
// time.
type IntervalScheduler struct{}

func (IntervalScheduler) NextDue(notePath string, grade int, now time.Time) time.Time {
	if grade < 0 {
		grade = 0
	}
	if grade > 5 {
		grade = 5
	}
	return now.Add(reviewIntervals[grade])
}
