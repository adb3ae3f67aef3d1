package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/discord-phrase-bot/internal/logging"
)

// ClipSink writes finalized clips to disk as WAV plus a JSON sidecar with
// the clip metadata. Debug aid only: failures are logged, never propagated
// into the pipeline.
type ClipSink struct {
	dir string
}

type clipSidecar struct {
	ClipID     string `json:"clip_id"`
	SpeakerID  string `json:"speaker_id"`
	Seq        uint64 `json:"seq"`
	SampleRate int    `json:"sample_rate"`
	Samples    int    `json:"samples"`
	Start      string `json:"start"`
	End        string `json:"end"`
	WavPath    string `json:"wav_path"`
}

func NewClipSink(dir string) *ClipSink {
	return &ClipSink{dir: dir}
}

// Save writes the clip's WAV and sidecar atomically. Never returns an error
// to the caller; the pipeline does not care whether debug dumps succeed.
func (cs *ClipSink) Save(clip *AudioClip) {
	base := fmt.Sprintf("%s_%s", clip.Start.UTC().Format("20060102T150405"), clip.ID)
	wavPath := filepath.Join(cs.dir, base+".wav")
	jsonPath := filepath.Join(cs.dir, base+".json")

	if err := saveFileAtomic(wavPath, BuildWAV(clip.Samples, clip.SampleRate, 1), 0o644); err != nil {
		logging.Warnw("clip dump failed", "clip_id", clip.ID, "err", err)
		return
	}
	sc := clipSidecar{
		ClipID:     clip.ID,
		SpeakerID:  clip.SpeakerID,
		Seq:        clip.Seq,
		SampleRate: clip.SampleRate,
		Samples:    len(clip.Samples),
		Start:      clip.Start.UTC().Format(time.RFC3339Nano),
		End:        clip.End.UTC().Format(time.RFC3339Nano),
		WavPath:    wavPath,
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err == nil {
		err = saveFileAtomic(jsonPath, b, 0o644)
	}
	if err != nil {
		logging.Warnw("clip sidecar dump failed", "clip_id", clip.ID, "err", err)
		return
	}
	logging.Debugw("clip dumped", "clip_id", clip.ID, "path", wavPath)
}

// RunCleaner prunes dumped clips by age and count until ctx is cancelled.
// Pairs are keyed off the sidecar file; an orphaned wav with no sidecar is
// left alone.
func (cs *ClipSink) RunCleaner(ctx context.Context, retention, interval time.Duration, maxFiles int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.cleanOnce(retention, maxFiles)
		}
	}
}

func (cs *ClipSink) cleanOnce(retention time.Duration, maxFiles int) {
	entries, err := os.ReadDir(cs.dir)
	if err != nil {
		logging.Debugw("clip cleanup readdir failed", "err", err)
		return
	}
	type pair struct {
		jsonPath string
		wavPath  string
		mod      time.Time
	}
	var pairs []pair
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(cs.dir, name)
		st, err := os.Stat(jsonPath)
		if err != nil {
			continue
		}
		wavPath := strings.TrimSuffix(jsonPath, ".json") + ".wav"
		if b, err := os.ReadFile(jsonPath); err == nil {
			var sc clipSidecar
			if json.Unmarshal(b, &sc) == nil && sc.WavPath != "" {
				wavPath = sc.WavPath
			}
		}
		pairs = append(pairs, pair{jsonPath: jsonPath, wavPath: wavPath, mod: st.ModTime()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, p := range pairs {
		if !p.mod.Before(cutoff) {
			break
		}
		_ = os.Remove(p.jsonPath)
		_ = os.Remove(p.wavPath)
		removed++
	}
	if maxFiles > 0 {
		excess := len(pairs) - removed - maxFiles
		for i := removed; excess > 0 && i < len(pairs); i++ {
			_ = os.Remove(pairs[i].jsonPath)
			_ = os.Remove(pairs[i].wavPath)
			excess--
			removed++
		}
	}
	if removed > 0 {
		logging.Debugw("clip cleanup removed files", "removed", removed)
	}
}

// saveFileAtomic writes data via a tmp file in the same directory, fsyncs,
// and renames into place.
func saveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
