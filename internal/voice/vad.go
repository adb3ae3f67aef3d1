package voice

import "math"

// RMSVAD classifies frames as speech or silence from their RMS energy, with
// hysteresis so the decision does not flicker at the threshold. One instance
// belongs to one speaker session; it is not safe for concurrent use.
type RMSVAD struct {
	speechThreshold  int // RMS level to enter speech
	silenceThreshold int // RMS level to leave speech
	speechFrames     int // consecutive loud frames needed to start
	silenceFrames    int // consecutive quiet frames needed to end

	inSpeech     bool
	speechCount  int
	silenceCount int
}

// NewRMSVAD returns a detector tuned around the given RMS threshold for
// int16 PCM. The exit threshold sits at roughly half the entry threshold so
// trailing speech does not cut out early.
func NewRMSVAD(threshold int) *RMSVAD {
	if threshold <= 0 {
		threshold = 500
	}
	return &RMSVAD{
		speechThreshold:  threshold,
		silenceThreshold: threshold / 2,
		speechFrames:     2,
		silenceFrames:    3,
	}
}

// IsSpeech feeds one frame and returns whether the detector currently
// considers the speaker to be talking.
func (v *RMSVAD) IsSpeech(pcm []int16) bool {
	level := rmsLevel(pcm)

	if v.inSpeech {
		if level < v.silenceThreshold {
			v.silenceCount++
			v.speechCount = 0
			if v.silenceCount >= v.silenceFrames {
				v.inSpeech = false
				v.silenceCount = 0
			}
		} else {
			v.silenceCount = 0
		}
	} else {
		if level >= v.speechThreshold {
			v.speechCount++
			v.silenceCount = 0
			if v.speechCount >= v.speechFrames {
				v.inSpeech = true
				v.speechCount = 0
			}
		} else {
			v.speechCount = 0
		}
	}
	return v.inSpeech
}

// Reset clears internal state, e.g. after a clip is finalized.
func (v *RMSVAD) Reset() {
	v.inSpeech = false
	v.speechCount = 0
	v.silenceCount = 0
}

func rmsLevel(pcm []int16) int {
	if len(pcm) == 0 {
		return 0
	}
	var sumSq int64
	for _, s := range pcm {
		val := int64(s)
		sumSq += val * val
	}
	meanSq := sumSq / int64(len(pcm))
	return int(math.Sqrt(float64(meanSq)))
}
