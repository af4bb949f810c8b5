package apperrors

import "errors"

var (
	ErrRoundExists           = errors.New("round already exists")
	ErrRoundNotFound         = errors.New("round not found")
	ErrWorkItemNotFound      = errors.New("work item not found")
	ErrRoundRolledBack       = errors.New("round already rolled back")
	ErrInvalidRollbackTarget = errors.New("invalid rollback target")
	ErrRoundInProgress       = errors.New("another round is already processing")
	ErrCyclicChapterGraph    = errors.New("chapter dependency graph contains a cycle")
	ErrDateInconsistency     = errors.New("reference dates disagree across sources")
	ErrCheckpointRejected    = errors.New("checkpoint rejected stage results")
)
