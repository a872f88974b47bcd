package workflow

import "gorm.io/gorm/clause"

// lockingForUpdate is the row lock SampleRepo.WithSampleLock takes
// (§4.2, §5: row-level lock on the affected sample id).
func lockingForUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

func lockingForUpdateSkipLocked() clause.Locking {
	return clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}
}
