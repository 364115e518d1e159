package transcript

import "math"

// SpeakerStatistics summarizes how much each speaker label talked
type SpeakerStatistics struct {
	SpeakerCount          int                `json:"speaker_count"`
	Speakers              []string           `json:"speakers"`
	SpeakerTimes          map[string]float64 `json:"speaker_times"`
	TotalDuration         float64            `json:"total_duration"`
	MostActiveSpeaker     string             `json:"most_active_speaker,omitempty"`
	MostActiveSpeakerTime float64            `json:"most_active_speaker_time"`
}

// SpeakerStats totals speaking time per label over the given turns.
// Speakers are listed in first-appearance order; a tie for most active goes to the earlier one.
// Turns with an empty label or a non-positive length are ignored. Times are rounded to 0.01s.
func SpeakerStats(turns []DiarizationTurn) SpeakerStatistics {
	stats := SpeakerStatistics{
		Speakers:     []string{},
		SpeakerTimes: map[string]float64{},
	}

	total := 0.0
	for _, t := range turns {
		length := t.End - t.Start
		if t.Speaker == "" || length <= 0 {
			continue
		}
		if _, seen := stats.SpeakerTimes[t.Speaker]; !seen {
			stats.Speakers = append(stats.Speakers, t.Speaker)
		}
		stats.SpeakerTimes[t.Speaker] += length
		total += length
	}

	for _, speaker := range stats.Speakers {
		if stats.SpeakerTimes[speaker] > stats.MostActiveSpeakerTime {
			stats.MostActiveSpeaker = speaker
			stats.MostActiveSpeakerTime = stats.SpeakerTimes[speaker]
		}
		stats.SpeakerTimes[speaker] = round2(stats.SpeakerTimes[speaker])
	}
	stats.SpeakerCount = len(stats.Speakers)
	stats.TotalDuration = round2(total)
	stats.MostActiveSpeakerTime = round2(stats.MostActiveSpeakerTime)
	return stats
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
