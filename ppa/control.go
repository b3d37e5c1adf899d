package ppa

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/cockroachdb/errors"
)

// ControlField is one "Key: Value" field of a deb822 paragraph.
type ControlField struct {
	Key   string
	Value string
}

// Control is the first paragraph of a deb822 file such as a .dsc or .changes.
type Control struct {
	Fields []ControlField
}

// Get returns the value of key, matched case-insensitively.
func (c *Control) Get(key string) string {
	for _, f := range c.Fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return ""
}

// Lines splits a multi-line field value into its trimmed, non-empty lines.
func (c *Control) Lines(key string) []string {
	var out []string
	for _, line := range strings.Split(c.Get(key), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ParseControl reads the first paragraph of a deb822 document. A clearsigned
// document is unwrapped first; the signature is not checked.
func ParseControl(r io.Reader) (*Control, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading control data")
	}
	if block, _ := clearsign.Decode(data); block != nil {
		data = block.Plaintext
	}

	ctrl := &Control{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var currentKey, currentValue string
	flush := func() {
		if currentKey == "" {
			return
		}
		ctrl.Fields = append(ctrl.Fields, ControlField{Key: currentKey, Value: strings.TrimSpace(currentValue)})
		currentKey, currentValue = "", ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if len(ctrl.Fields) > 0 || currentKey != "" {
				break
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			currentValue += "\n" + line
			continue
		}

		flush()

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		currentKey = strings.TrimSpace(key)
		currentValue = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning control data")
	}
	flush()

	if len(ctrl.Fields) == 0 {
		return nil, errors.New("no fields found in control data")
	}
	return ctrl, nil
}

// ControlFile is a file reference from a Files or Checksums-* field.
type ControlFile struct {
	Name string
	Size int64
	Hash string
}

// FileList parses the named file list field ("Files", "Checksums-Sha256"...).
// Each line is "<hash> <size> [<section> <priority>] <name>".
func (c *Control) FileList(key string) []ControlFile {
	var out []ControlFile
	for _, line := range c.Lines(key) {
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		size, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			size = -1
		}
		out = append(out, ControlFile{Hash: parts[0], Size: size, Name: parts[len(parts)-1]})
	}
	return out
}
