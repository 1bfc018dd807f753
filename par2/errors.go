package par2

import "errors"

// ErrSingular names the condition where the recovery matrix for a repair
// attempt is singular: the selected recovery blocks cannot reconstruct the
// missing data blocks. Repair does not return it; it reports that case by
// listing the blocks in RepairResult.Unrecoverable.
var ErrSingular = errors.New("par2: recovery matrix is singular, unrecoverable")

// ErrNoRecoverySet is returned when no Main packet could be found across
// the supplied PAR2 files.
var ErrNoRecoverySet = errors.New("par2: no recovery set found")

// ErrUnknownFile is returned when a block index falls within none of the
// recovery set's files.
var ErrUnknownFile = errors.New("par2: unknown file id")
