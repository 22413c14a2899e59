package transcribe

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-audio/wav"
)

// Info describes an uploaded clip. Duration and SampleRate are only known
// for WAV files.
type Info struct {
	MIME       string        `json:"mime"`
	Extension  string        `json:"extension"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
}

var containerTypes = map[string]struct{}{
	"video/mp4":       {},
	"video/webm":      {},
	"video/mpeg":      {},
	"application/ogg": {},
}

// Inspect sniffs the clip contents and rejects anything that is not audio.
func Inspect(a Audio) (Info, error) {
	if len(a.Data) == 0 {
		return Info{}, fmt.Errorf("%w: empty upload", ErrUnsupported)
	}
	m := mimetype.Detect(a.Data)
	info := Info{MIME: m.String(), Extension: m.Extension()}
	if !isAudio(m) {
		return info, fmt.Errorf("%w: %s", ErrUnsupported, m.String())
	}
	if !m.Is("audio/wav") {
		return info, nil
	}

	d := wav.NewDecoder(bytes.NewReader(a.Data))
	if !d.IsValidFile() {
		return info, fmt.Errorf("%w: malformed wav header", ErrUnsupported)
	}
	info.SampleRate = int(d.SampleRate)
	info.Channels = int(d.NumChans)
	if dur, err := d.Duration(); err == nil {
		info.Duration = dur
	}
	return info, nil
}

func isAudio(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		mt := m.String()
		if strings.HasPrefix(mt, "audio/") {
			return true
		}
		if _, ok := containerTypes[mt]; ok {
			return true
		}
	}
	return false
}

// Named returns a with a file name the transcriber accepts, taking the
// extension from the sniffed type when the given name has none it knows.
func Named(a Audio, info Info) Audio {
	if Allowed(a.Name) || info.Extension == "" {
		return a
	}
	base := strings.TrimSuffix(filepath.Base(a.Name), filepath.Ext(a.Name))
	if base == "" || base == "." {
		base = "upload"
	}
	return Audio{Name: base + info.Extension, Data: a.Data}
}
