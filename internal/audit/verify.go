package audit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/traceledger/internal/errs"
	"github.com/roach88/traceledger/internal/model"
)

// Reason classifies an integrity mismatch.
type Reason string

const (
	// ReasonChecksumMismatch: the stored checksum differs from the value
	// recomputed over the stored fields and stored previous checksum.
	ReasonChecksumMismatch Reason = "checksum_mismatch"

	// ReasonBrokenLink: the event hashes correctly, but its previous
	// checksum does not equal the stored checksum of the event before it.
	// Reported only when that earlier event verifies by itself.
	ReasonBrokenLink Reason = "broken_link"

	// ReasonSequenceGap: an expected sequence number is missing.
	ReasonSequenceGap Reason = "sequence_gap"
)

// Mismatch is one integrity finding. Expected and Actual hold checksums for
// checksum and link findings and sequence numbers for gaps.
type Mismatch struct {
	Sequence int64  `json:"sequence"`
	Reason   Reason `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// VerifyResult is the outcome of verifying a sequence range.
type VerifyResult struct {
	From       int64      `json:"from"`
	To         int64      `json:"to"`
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches"`
}

// Valid reports whether the range verified without findings.
func (r VerifyResult) Valid() bool {
	return len(r.Mismatches) == 0
}

// VerifyChain checks events, which must be sorted by sequence, against the
// chain rules. from is the sequence the first event should carry. anchor is
// the stored checksum of event from-1 (GenesisChecksum when from is 1, or ""
// when unknown, which skips the first link check).
//
// Each event is first verified on its own: its checksum is recomputed from
// its stored fields and stored previous checksum. A link between two events
// is then checked only if both verify on their own, so a single corrupted
// checksum produces exactly one finding, at the corrupted event.
func VerifyChain(events []model.AuditEvent, from int64, anchor string) []Mismatch {
	findings := []Mismatch{}

	expectSeq := from
	prevChecksum := anchor
	prevSelfOK := anchor != ""

	for _, ev := range events {
		if ev.Sequence != expectSeq {
			for missing := expectSeq; missing < ev.Sequence; missing++ {
				findings = append(findings, Mismatch{
					Sequence: missing,
					Reason:   ReasonSequenceGap,
					Expected: strconv.FormatInt(missing, 10),
				})
			}
			// The predecessor is missing, so there is nothing to link to.
			prevSelfOK = false
		}

		recomputed, err := ComputeChecksum(ev)
		selfOK := err == nil && recomputed == ev.Checksum
		if !selfOK {
			findings = append(findings, Mismatch{
				Sequence: ev.Sequence,
				Reason:   ReasonChecksumMismatch,
				Expected: recomputed,
				Actual:   ev.Checksum,
			})
		}

		if selfOK && prevSelfOK && ev.PreviousChecksum != prevChecksum {
			findings = append(findings, Mismatch{
				Sequence: ev.Sequence,
				Reason:   ReasonBrokenLink,
				Expected: prevChecksum,
				Actual:   ev.PreviousChecksum,
			})
		}

		prevChecksum = ev.Checksum
		prevSelfOK = selfOK
		expectSeq = ev.Sequence + 1
	}
	return findings
}

// VerifyIntegrity recomputes every checksum in [from, to] and reports
// mismatches. to == 0 means the chain head; a to beyond the head is clamped
// to it. Findings are reported, never repaired.
func (s *Service) VerifyIntegrity(ctx context.Context, from, to int64) (VerifyResult, error) {
	if from < 1 {
		return VerifyResult{}, errs.ValidationField("from", "range must start at sequence 1 or later, got %d", from)
	}
	if to != 0 && to < from {
		return VerifyResult{}, errs.ValidationField("to", "range end %d is before start %d", to, from)
	}

	head, err := s.store.ChainHead(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}
	if to == 0 || to > head.Sequence {
		to = head.Sequence
	}
	if from > to {
		return VerifyResult{From: from, To: to, Mismatches: []Mismatch{}}, nil
	}

	anchor, verified, err := s.AnchorFor(ctx, from)
	if err != nil {
		return VerifyResult{}, err
	}
	if !verified {
		anchor = ""
	}

	events, err := s.store.EventsInRange(ctx, from, to)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return VerifyResult{}, err
	}

	findings := VerifyChain(events, from, anchor)
	if len(events) == 0 || events[len(events)-1].Sequence < to {
		last := from - 1
		if len(events) > 0 {
			last = events[len(events)-1].Sequence
		}
		for missing := last + 1; missing <= to; missing++ {
			findings = append(findings, Mismatch{
				Sequence: missing,
				Reason:   ReasonSequenceGap,
				Expected: strconv.FormatInt(missing, 10),
			})
		}
	}

	return VerifyResult{
		From:       from,
		To:         to,
		Checked:    len(events),
		Mismatches: findings,
	}, nil
}

// AnchorFor returns the checksum the event at seq should chain to: the
// genesis value for sequence 1, otherwise the stored checksum of seq-1.
// verified is false when seq-1 is missing or its stored checksum does not
// recompute; such an anchor must not be used to judge the link into seq,
// since the fault already belongs to seq-1.
func (s *Service) AnchorFor(ctx context.Context, seq int64) (anchor string, verified bool, err error) {
	if seq <= 1 {
		return GenesisChecksum, true, nil
	}
	prev, err := s.store.EventAt(ctx, seq-1)
	if errs.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("verify anchor: %w", err)
	}
	recomputed, err := ComputeChecksum(prev)
	if err != nil || recomputed != prev.Checksum {
		return prev.Checksum, false, nil
	}
	return prev.Checksum, true, nil
}
