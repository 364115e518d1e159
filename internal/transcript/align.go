package transcript

import (
	"math"
	"strings"
)

// AlignmentReport summarizes how many aligned segments fell back to UnknownSpeaker
type AlignmentReport struct {
	Total   int
	Unknown int
}

// Align tags each recognized segment with the diarization turn that overlaps it most.
// Blank and zero-length segments are dropped. Output keeps the input order.
func Align(recognized []TimeSegment, diarized []DiarizationTurn) ([]AlignedSegment, AlignmentReport) {
	aligned := make([]AlignedSegment, 0, len(recognized))
	var report AlignmentReport

	for _, seg := range recognized {
		if strings.TrimSpace(seg.Text) == "" || seg.Duration() <= 0 {
			continue
		}

		speaker, overlap := bestTurn(seg, diarized)
		out := AlignedSegment{
			Start:   seg.Start,
			End:     seg.End,
			Text:    seg.Text,
			Speaker: speaker,
		}
		if speaker == UnknownSpeaker {
			report.Unknown++
		} else {
			out.Confidence = math.Min(1, overlap/seg.Duration())
		}

		aligned = append(aligned, out)
		report.Total++
	}

	return aligned, report
}

// bestTurn picks the turn with the greatest strictly positive overlap.
// Equal overlaps go to the earlier turn start, then to the earlier turn in input order.
func bestTurn(seg TimeSegment, turns []DiarizationTurn) (string, float64) {
	best := -1
	bestOverlap := 0.0

	for i, turn := range turns {
		ov := Overlap(seg.Start, seg.End, turn.Start, turn.End)
		if ov <= 0 {
			continue
		}
		switch {
		case best < 0, ov > bestOverlap:
			best, bestOverlap = i, ov
		case ov == bestOverlap && turn.Start < turns[best].Start:
			best = i
		}
	}

	if best < 0 {
		return UnknownSpeaker, 0
	}
	return turns[best].Speaker, bestOverlap
}

// Overlap returns the length of the intersection of [aStart,aEnd] and [bStart,bEnd], or 0
func Overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	if aStart >= bEnd || aEnd <= bStart {
		return 0
	}
	return math.Min(aEnd, bEnd) - math.Max(aStart, bStart)
}

// LastUtteranceEnd returns the latest segment end, in seconds
func LastUtteranceEnd(segments []TimeSegment) float64 {
	var last float64
	for _, s := range segments {
		if s.End > last {
			last = s.End
		}
	}
	return last
}
