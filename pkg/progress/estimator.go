package progress

// Estimate returns the percentage of the ID range [firstID, latestKnownID]
// covered once lastID has been seen, clamped to [0, 100]. Reaching or passing
// the latest known ID reports exactly 100, which also covers a window holding
// a single revision.
func Estimate(firstID, lastID, latestKnownID int) int {
	if lastID < firstID {
		return 0
	}
	if lastID >= latestKnownID {
		return 100
	}
	return 100 * (lastID - firstID) / (latestKnownID - firstID)
}

// Estimator tracks fetch progress across revision pages. firstID is the ID
// of the first revision seen in the window and latestKnownID the newest
// revision ID probed at run start; both are fixed for the life of the run.
// Reported values never decrease, even if fed a smaller lastID.
//
// Progress is informational only. With a bounded window the latest known ID
// can lie outside the window, in which case the display stays below 100
// until the final page; completion is decided by cursor exhaustion, never by
// this estimate.
type Estimator struct {
	firstID      int
	latestID     int
	highWaterPct int
}

// NewEstimator creates an estimator for one run.
func NewEstimator(firstID, latestKnownID int) *Estimator {
	return &Estimator{
		firstID:  firstID,
		latestID: latestKnownID,
	}
}

// Update records the last revision ID seen and returns the current
// percentage.
func (e *Estimator) Update(lastSeenID int) int {
	pct := Estimate(e.firstID, lastSeenID, e.latestID)
	if pct > e.highWaterPct {
		e.highWaterPct = pct
	}
	return e.highWaterPct
}

// Current returns the highest percentage reported so far.
func (e *Estimator) Current() int {
	return e.highWaterPct
}
