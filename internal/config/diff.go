package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Engine changes are reported but need a restart to take effect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	EngineChanged bool

	VoicesChanged bool        // true if any voice was added, removed or modified
	VoiceChanges  []VoiceDiff // per-voice diffs, in new-config order then removals
}

// VoiceDiff describes what changed for a single voice between two configs.
type VoiceDiff struct {
	Name           string
	VolumesChanged bool
	NotesChanged   bool // notes, loop, crossfade or close mode changed
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.EngineChanged = old.Engine != new.Engine

	oldVoices := make(map[string]*VoiceConfig, len(old.Score))
	for i := range old.Score {
		oldVoices[old.Score[i].Name] = &old.Score[i]
	}
	newNames := make(map[string]bool, len(new.Score))

	for i := range new.Score {
		nv := &new.Score[i]
		newNames[nv.Name] = true
		ov, exists := oldVoices[nv.Name]
		if !exists {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Name: nv.Name, Added: true})
			continue
		}
		vd := diffVoice(ov, nv)
		if vd.VolumesChanged || vd.NotesChanged {
			d.VoiceChanges = append(d.VoiceChanges, vd)
		}
	}
	for i := range old.Score {
		if name := old.Score[i].Name; !newNames[name] {
			d.VoiceChanges = append(d.VoiceChanges, VoiceDiff{Name: name, Removed: true})
		}
	}

	d.VoicesChanged = len(d.VoiceChanges) > 0
	return d
}

// diffVoice compares two voices with the same name.
func diffVoice(old, new *VoiceConfig) VoiceDiff {
	return VoiceDiff{
		Name:           new.Name,
		VolumesChanged: !slices.Equal(old.Volumes, new.Volumes),
		NotesChanged: old.Crossfade != new.Crossfade ||
			old.Close != new.Close ||
			old.Loop != new.Loop ||
			!slices.EqualFunc(old.Notes, new.Notes, noteEqual),
	}
}

func noteEqual(a, b NoteConfig) bool {
	if a.Gain() != b.Gain() {
		return false
	}
	a.Volume, b.Volume = nil, nil
	return a == b
}
