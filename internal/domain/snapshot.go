package domain

import "time"

// Snapshot is a full export of one portfolio: aggregate state, every open
// position, and the complete journal. Snapshots are taken between operations
// under the portfolio's lock, so every snapshot is internally consistent:
// aggregates match the position set and no half-applied mutation is visible.
type Snapshot struct {
	TakenAt      time.Time     `json:"taken_at"`
	Portfolio    *Portfolio    `json:"portfolio"`
	Positions    []*Position   `json:"positions"`
	Transactions []Transaction `json:"transactions"`
}
