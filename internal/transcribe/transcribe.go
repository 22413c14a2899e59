// Package transcribe turns dispatch audio into text for the extractor.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// MaxAudioBytes is the upload limit of the transcription endpoint.
const MaxAudioBytes = 25 * 1024 * 1024

const (
	DefaultModel   = "gpt-4o-transcribe"
	defaultBaseURL = "https://api.openai.com"
)

var (
	ErrMissingCredential = errors.New("OPENAI_API_KEY not set")
	ErrTooLarge          = errors.New("audio exceeds 25MB limit")
	ErrUnsupported       = errors.New("unsupported audio type")
	ErrEmptyTranscript   = errors.New("empty transcript")
)

var allowedExtensions = map[string]struct{}{
	".mp3": {}, ".mp4": {}, ".mpeg": {}, ".mpga": {}, ".m4a": {}, ".wav": {},
	".webm": {}, ".aac": {}, ".flac": {}, ".ogg": {},
}

// Allowed reports whether name carries an extension the transcriber accepts.
func Allowed(name string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Audio is an uploaded or recorded clip.
type Audio struct {
	Name string
	Data []byte
}

// Load reads a clip from disk.
func Load(path string) (Audio, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Audio{}, err
	}
	if info.Size() > MaxAudioBytes {
		return Audio{}, ErrTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Name: filepath.Base(path), Data: data}, nil
}

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, a Audio) (string, error)
}

// Options configures the OpenAI transcriber.
type Options struct {
	APIKey   string
	Model    string
	BaseURL  string
	Language string
	Prompt   string
}

// OpenAI posts clips to an OpenAI-compatible /v1/audio/transcriptions
// endpoint. Build it once and share it; it is safe for concurrent use.
type OpenAI struct {
	opts     Options
	client   *http.Client
	log      *zap.Logger
	endpoint string
}

func NewOpenAI(opts Options, client *http.Client, log *zap.Logger) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &OpenAI{opts: opts, client: client, log: log, endpoint: base + "/v1/audio/transcriptions"}, nil
}

func (o *OpenAI) Model() string { return o.opts.Model }

func (o *OpenAI) Transcribe(ctx context.Context, a Audio) (string, error) {
	if len(a.Data) == 0 {
		return "", fmt.Errorf("%w: empty upload", ErrUnsupported)
	}
	if len(a.Data) > MaxAudioBytes {
		return "", ErrTooLarge
	}
	if !Allowed(a.Name) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(a.Name))
	}

	bodyReader, bodyWriter := io.Pipe()
	writer := multipart.NewWriter(bodyWriter)
	go func() {
		fw, err := writer.CreateFormFile("file", filepath.Base(a.Name))
		if err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		if _, err := io.Copy(fw, bytes.NewReader(a.Data)); err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		_ = writer.WriteField("model", o.opts.Model)
		_ = writer.WriteField("response_format", "json")
		if o.opts.Language != "" {
			_ = writer.WriteField("language", o.opts.Language)
		}
		if o.opts.Prompt != "" {
			_ = writer.WriteField("prompt", o.opts.Prompt)
		}
		_ = bodyWriter.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bodyReader)
	if err != nil {
		_ = bodyReader.Close()
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	o.log.Debug("transcribed audio", zap.String("name", a.Name), zap.Int("bytes", len(a.Data)), zap.Int("chars", len(text)))
	return text, nil
}

// Func adapts a function to Transcriber.
type Func func(ctx context.Context, a Audio) (string, error)

func (f Func) Transcribe(ctx context.Context, a Audio) (string, error) { return f(ctx, a) }
