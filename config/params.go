package config

import (
	"net/url"
	"strconv"

	"go-metronome/pattern"
	"go-metronome/voice"
)

// Encode returns the share string bpm=..&voice=..&rhythm=..&volume=..
// Voices are written by display name so strings stay readable.
func (c *Config) Encode() string {
	v := url.Values{}
	v.Set("bpm", strconv.FormatFloat(c.BPM, 'f', -1, 64))
	name := c.Voice
	if vc, ok := voice.Find(c.Voice); ok {
		name = vc.Name
	}
	v.Set("voice", name)
	v.Set("rhythm", c.Pattern)
	v.Set("volume", strconv.FormatFloat(c.Volume, 'f', -1, 64))
	return v.Encode()
}

// ApplyParams overlays a share string onto the config. A leading '#' is
// ignored. Zero or unparsable numbers and unknown voices or rhythms are
// skipped, leaving the current value.
func (c *Config) ApplyParams(s string) error {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	v, err := url.ParseQuery(s)
	if err != nil {
		return err
	}

	if bpm, err := strconv.ParseFloat(v.Get("bpm"), 64); err == nil && bpm != 0 {
		c.BPM = bpm
	}
	if vol, err := strconv.ParseFloat(v.Get("volume"), 64); err == nil && vol != 0 {
		c.Volume = vol
	}
	if name := v.Get("voice"); name != "" {
		if vc, ok := voice.Find(name); ok {
			c.Voice = vc.ID
		}
	}
	if name := v.Get("rhythm"); name != "" {
		if p, ok := pattern.Find(name); ok {
			c.Pattern = p.Name()
		}
	}
	c.Normalize()
	return nil
}
