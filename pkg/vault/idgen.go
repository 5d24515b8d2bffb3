package vault

import "strconv"

// idPrefix is the fixed prefix of every commitment id.
const idPrefix = "commitment-"

// CommitmentID derives a commitment id from the monotonic creation
// counter read at the start of the operation. Uniqueness depends on the
// counter being strictly increasing and never replayed; the ledger
// re-checks non-existence before committing.
func CommitmentID(counter uint64) string {
	return idPrefix + strconv.FormatUint(counter+1, 10)
}
