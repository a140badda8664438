// Package config loads the scrub.conf settings file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/njyeung/scrub/workflow"
)

const FileName = "scrub.conf"

type Settings struct {
	MaxWidth     int
	MaxHeight    int
	ReadyTimeout time.Duration
	Audio        bool
	Volume       float64
	UseShm       bool
	LogFile      string
	LogLevel     string
}

var Config Settings

var settingsMu sync.RWMutex

func defaultSettings() Settings {
	return Settings{
		MaxWidth:     workflow.DefaultMaxWidth,
		MaxHeight:    workflow.DefaultMaxHeight,
		ReadyTimeout: workflow.DefaultTimeout,
		Audio:        true,
		Volume:       1,
		UseShm:       true,
		LogLevel:     "info",
	}
}

// Dir returns the default configuration directory
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not find user config directory: %w", err)
	}
	return filepath.Join(base, "scrub"), nil
}

// Init creates configDir and writes the default settings if scrub.conf doesn't exist
func Init(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	path := filepath.Join(configDir, FileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		s := defaultSettings()
		s.LogFile = filepath.Join(configDir, "scrub.log")
		if err := writeConf(path, s); err != nil {
			return fmt.Errorf("could not write default settings: %w", err)
		}
	}
	return nil
}

// LoadSettings loads scrub.conf from configDir into Config. Missing or
// invalid values keep their defaults.
func LoadSettings(configDir string) Settings {
	s := defaultSettings()

	conf := parseConf(filepath.Join(configDir, FileName))

	if v, ok := conf["max_width"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxWidth = n
		}
	}
	if v, ok := conf["max_height"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.MaxHeight = n
		}
	}
	if v, ok := conf["ready_timeout"]; ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			s.ReadyTimeout = d
		}
	}
	if v, ok := conf["audio"]; ok {
		s.Audio = (v == "true")
	}
	if v, ok := conf["volume"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.Volume = min(max(f, 0), 1)
		}
	}
	if v, ok := conf["use_shm"]; ok {
		s.UseShm = (v == "true")
	}
	if v, ok := conf["log_file"]; ok {
		s.LogFile = v
	}
	if v, ok := conf["log_level"]; ok {
		s.LogLevel = strings.ToLower(v)
	}

	settingsMu.Lock()
	Config = s
	settingsMu.Unlock()
	return s
}

// Current returns a copy of Config
func Current() Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return Config
}

// ToggleAudio flips the audio setting and saves it
func ToggleAudio(configDir string) (bool, error) {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	Config.Audio = !Config.Audio
	return Config.Audio, writeConf(filepath.Join(configDir, FileName), Config)
}

// Format returns the frame geometry of the settings
func (s Settings) Format() workflow.Format {
	return workflow.Format{Width: s.MaxWidth, Height: s.MaxHeight}
}

func writeConf(path string, s Settings) error {
	var b strings.Builder
	b.WriteString("# scrub timeline preview config\n\n")
	b.WriteString("# frames are scaled to this size\n")
	b.WriteString(fmt.Sprintf("max_width = %d\n", s.MaxWidth))
	b.WriteString(fmt.Sprintf("max_height = %d\n", s.MaxHeight))
	b.WriteString("# how long to wait for a clip to be positioned\n")
	b.WriteString(fmt.Sprintf("ready_timeout = %s\n", s.ReadyTimeout))
	b.WriteString(fmt.Sprintf("audio = %t\n", s.Audio))
	b.WriteString(fmt.Sprintf("volume = %s\n", strconv.FormatFloat(s.Volume, 'f', -1, 64)))
	b.WriteString(fmt.Sprintf("use_shm = %t\n", s.UseShm))
	b.WriteString(fmt.Sprintf("log_file = %s\n", s.LogFile))
	b.WriteString("# debug, info, warn or error\n")
	b.WriteString(fmt.Sprintf("log_level = %s\n", s.LogLevel))
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func parseConf(path string) map[string]string {
	result := make(map[string]string)
	file, err := os.Open(path)
	if err != nil {
		return result
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			result[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return result
}
