package voice

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DownmixStereo averages interleaved stereo int16 PCM into mono. Odd
// trailing samples are truncated.
func DownmixStereo(pcm []int16) []int16 {
	n := len(pcm) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16((int32(pcm[2*i]) + int32(pcm[2*i+1])) / 2)
	}
	return out
}

// Decimate48to16 converts 48 kHz mono PCM to 16 kHz by averaging groups of
// three samples. The 3:1 integer ratio keeps this exact; anti-alias quality
// is adequate for speech recognition input.
func Decimate48to16(pcm []int16) []int16 {
	n := len(pcm) / 3
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		sum := int32(pcm[3*i]) + int32(pcm[3*i+1]) + int32(pcm[3*i+2])
		out[i] = int16(sum / 3)
	}
	return out
}

// ResampleLinear converts PCM between arbitrary rates with linear
// interpolation. Used on the playback path where TTS engines emit 22.05 or
// 24 kHz audio and the voice channel wants 48 kHz.
func ResampleLinear(pcm []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(pcm) == 0 || fromRate <= 0 || toRate <= 0 {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}
	outLen := int(int64(len(pcm)) * int64(toRate) / int64(fromRate))
	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * float64(fromRate) / float64(toRate)
		idx := int(pos)
		if idx >= len(pcm)-1 {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(pcm[idx])
		b := float64(pcm[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// BuildWAV creates a simple RIFF/WAVE container for 16-bit PCM and returns
// the concatenated bytes (header + data).
func BuildWAV(pcm []int16, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm) * 2)
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	for _, s := range pcm {
		binary.Write(buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

// ParseWAV extracts 16-bit PCM samples and the sample rate from a RIFF/WAVE
// byte stream. Stereo input is downmixed to mono. Only PCM format 1 is
// supported; anything else is an error.
func ParseWAV(data []byte) ([]int16, int, error) {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE stream")
	}
	var (
		sampleRate int
		channels   int
		bits       int
		pcmBytes   []byte
	)
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(data) {
			chunkLen = len(data) - body
		}
		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, fmt.Errorf("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported WAV format %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcmBytes = data[body : body+chunkLen]
		}
		// chunks are word-aligned
		pos = body + chunkLen
		if chunkLen%2 == 1 {
			pos++
		}
	}
	if sampleRate == 0 || pcmBytes == nil {
		return nil, 0, fmt.Errorf("missing fmt or data chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", bits)
	}
	samples := make([]int16, len(pcmBytes)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmBytes[2*i : 2*i+2]))
	}
	if channels == 2 {
		samples = DownmixStereo(samples)
	}
	return samples, sampleRate, nil
}
