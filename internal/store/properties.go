package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/magiconair/properties"
)

// DefaultPropertiesFile is the per-widget defaults file name.
const DefaultPropertiesFile = "default.properties"

// leadingSpace stands in for a value's first space while encoding. The
// writer leaves it alone and the reader would otherwise trim the space.
const leadingSpace = "\ue000"

// ReadProperties parses a properties file. A missing file yields an empty map
// and no error.
func ReadProperties(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	props, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return props, nil
}

// WriteProperties writes props to path sorted by key, creating parent
// directories. The write goes through a temp file and a rename.
func WriteProperties(path string, props map[string]string, comment string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var buf bytes.Buffer
	if err := EncodeProperties(&buf, props, comment); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// DecodeProperties parses UTF-8 properties from r. ${...} references are
// kept verbatim.
func DecodeProperties(r io.Reader) (map[string]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func decode(data []byte) (map[string]string, error) {
	l := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := l.LoadBytes(data)
	if err != nil {
		return nil, err
	}
	props := p.Map()
	if _, ok := props[""]; ok {
		return nil, errors.New("empty key")
	}
	return props, nil
}

// EncodeProperties writes props to w sorted by key.
func EncodeProperties(w io.Writer, props map[string]string, comment string) error {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := properties.NewProperties()
	p.DisableExpansion = true
	for _, k := range keys {
		v := props[k]
		if strings.HasPrefix(v, " ") && !strings.Contains(v, leadingSpace) {
			v = leadingSpace + v[1:]
		}
		if _, _, err := p.Set(k, v); err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
	}

	var body bytes.Buffer
	if comment != "" {
		for _, line := range strings.Split(comment, "\n") {
			fmt.Fprintf(&body, "# %s\n", line)
		}
	}
	if _, err := p.Write(&body, properties.UTF8); err != nil {
		return err
	}
	_, err := io.WriteString(w, strings.ReplaceAll(body.String(), leadingSpace, `\ `))
	return err
}
