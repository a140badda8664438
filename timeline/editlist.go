package timeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// editList is the YAML input accepted by Load:
//
//	tracks:
//	  - clips:
//	      - source: intro.mp4
//	        in: 2s
//	        out: 5s
//	      - source: pattern:fps=25,duration=10s
//	        start: 10s
//	        out: 4s
type editList struct {
	Tracks []struct {
		Clips []struct {
			Source string `yaml:"source"`
			Start  string `yaml:"start"`
			In     string `yaml:"in"`
			Out    string `yaml:"out"`
		} `yaml:"clips"`
	} `yaml:"tracks"`
}

// Load reads a YAML edit list. Clips without a start follow the previous clip of their track.
func Load(path string) (*Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read edit list: %w", err)
	}
	return Parse(data)
}

// Parse builds a timeline from YAML edit list data
func Parse(data []byte) (*Timeline, error) {
	var el editList
	if err := yaml.Unmarshal(data, &el); err != nil {
		return nil, fmt.Errorf("decode edit list: %w", err)
	}

	t := New()
	for track, tr := range el.Tracks {
		for i, c := range tr.Clips {
			in, err := parseDuration(c.In)
			if err != nil {
				return nil, fmt.Errorf("track %d clip %d: in: %w", track, i, err)
			}
			out, err := parseDuration(c.Out)
			if err != nil {
				return nil, fmt.Errorf("track %d clip %d: out: %w", track, i, err)
			}

			clip, err := NewClip(c.Source, in, out)
			if err != nil {
				return nil, fmt.Errorf("track %d clip %d: %w", track, i, err)
			}

			if c.Start == "" {
				_, err = t.Append(track, clip)
			} else {
				var start time.Duration
				if start, err = parseDuration(c.Start); err != nil {
					return nil, fmt.Errorf("track %d clip %d: start: %w", track, i, err)
				}
				_, err = t.Add(track, start, clip)
			}
			if err != nil {
				return nil, fmt.Errorf("track %d clip %d: %w", track, i, err)
			}
		}
	}
	return t, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
