package conversation

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks YAML for .yaml/.yml files and JSON for everything else.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// EncodeMessages writes msgs in the interchange shape.
func EncodeMessages(w io.Writer, msgs []Message, format Format) error {
	if msgs == nil {
		msgs = []Message{}
	}
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(msgs); err != nil {
			return errors.Wrap(err, "could not encode messages as yaml")
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(msgs), "could not encode messages as json")
	default:
		return errors.Errorf("unknown format: %s", format)
	}
}

// DecodeMessages reads and validates a message list.
func DecodeMessages(r io.Reader, format Format) ([]Message, error) {
	var msgs []Message
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&msgs); err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "could not decode yaml messages")
		}
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&msgs); err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "could not decode json messages")
		}
	default:
		return nil, errors.Errorf("unknown format: %s", format)
	}

	if err := Messages(msgs).Validate(); err != nil {
		return nil, err
	}
	return Messages(msgs).Clone(), nil
}

// MessagesFromJSON is a shorthand for DecodeMessages on a byte slice.
func MessagesFromJSON(b []byte) ([]Message, error) {
	return DecodeMessages(bytes.NewReader(b), FormatJSON)
}

// SaveToFile writes the current snapshot to path, as YAML or JSON depending on
// the file extension. Parent directories are created.
func (l *Log) SaveToFile(path string) error {
	msgs := l.Snapshot()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "could not create directory %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return errors.Wrapf(encodeAndClose(f, msgs, FormatFromPath(path)), "could not save %s", path)
}

// encodeAndClose returns the Close error when encoding succeeded.
func encodeAndClose(wc io.WriteCloser, msgs []Message, format Format) error {
	if err := EncodeMessages(wc, msgs, format); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}

// LoadFromFile replaces the log with the messages stored at path.
func (l *Log) LoadFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	msgs, err := DecodeMessages(f, FormatFromPath(path))
	if err != nil {
		return err
	}
	return l.Replace(msgs)
}
