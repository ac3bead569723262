package okx

import (
	"github.com/spooky-finn/go-okx-bridge/domain"
)

// BookUpdate is one order-book frame from the stream: a delta (or inline
// snapshot) bounded by the sequence pair (PrevSeqID, SeqID].
type BookUpdate struct {
	Action    string
	Bids      []domain.BookLevel
	Asks      []domain.BookLevel
	SeqID     int64
	PrevSeqID int64
	Checksum  int32
	Ts        int64
}

type DepthUpdateValidator struct{}

// IsValidUpd checks the frame against the last applied sequence. Frames at
// or behind the cursor are outdated; a frame whose starting sequence does
// not immediately follow the cursor indicates lost updates.
func (v *DepthUpdateValidator) IsValidUpd(update *BookUpdate, orderBookLastUpdID int64) error {
	if update.SeqID <= orderBookLastUpdID {
		return domain.ErrOrderBookUpdateIsOutdated
	}

	if update.PrevSeqID != orderBookLastUpdID {
		return domain.ErrOrderBookUpdateIsOutOfSequence
	}

	return nil
}

func (v *DepthUpdateValidator) IsErrOutOfSequence(err error) bool {
	return err == domain.ErrOrderBookUpdateIsOutOfSequence
}

func (v *DepthUpdateValidator) IsErrOutdated(err error) bool {
	return err == domain.ErrOrderBookUpdateIsOutdated
}
