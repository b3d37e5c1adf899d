package ppa

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/cockroachdb/errors"
)

type GPGSigner struct {
	entity *openpgp.Entity
}

func NewGPGSigner(armoredPrivateKey string) (*GPGSigner, error) {
	entityList, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredPrivateKey))
	if err != nil {
		return nil, errors.Wrap(err, "reading GPG key")
	}
	if len(entityList) == 0 {
		return nil, errors.New("no GPG keys found")
	}
	entity := entityList[0]
	if entity.PrivateKey == nil {
		return nil, errors.WithHint(errors.New("GPG key has no private part"), "export it with gpg --armor --export-secret-keys")
	}
	return &GPGSigner{entity: entity}, nil
}

// KeyID returns the signing key's long ID in hex.
func (g *GPGSigner) KeyID() string {
	return strings.ToUpper(strconv.FormatUint(g.entity.PrimaryKey.KeyId, 16))
}

func (g *GPGSigner) ClearSign(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := clearsign.Encode(&buf, g.entity.PrivateKey, nil)
	if err != nil {
		return nil, errors.Wrap(err, "clearsign encode")
	}
	if _, err := w.Write(content); err != nil {
		return nil, errors.Wrap(err, "clearsign write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "clearsign close")
	}
	return buf.Bytes(), nil
}

// SignUpload clearsigns the .dsc named in a .changes file, rewrites the
// .changes checksums for the re-signed .dsc, then clearsigns the .changes.
// Existing signatures are replaced.
func (g *GPGSigner) SignUpload(changesPath string) error {
	changesData, err := os.ReadFile(changesPath)
	if err != nil {
		return errors.Wrap(err, "reading changes")
	}
	changesData = unwrapClearsigned(changesData)

	ctrl, err := ParseControl(bytes.NewReader(changesData))
	if err != nil {
		return errors.Wrapf(err, "parsing %s", filepath.Base(changesPath))
	}

	for _, f := range ctrl.FileList("Files") {
		if !strings.HasSuffix(f.Name, ".dsc") {
			continue
		}
		dscPath := filepath.Join(filepath.Dir(changesPath), f.Name)
		if err := g.signFile(dscPath); err != nil {
			return err
		}
		fh, err := HashFile(dscPath)
		if err != nil {
			return err
		}
		changesData = rewriteChecksums(changesData, f.Name, fh)
	}

	signed, err := g.ClearSign(changesData)
	if err != nil {
		return errors.Wrapf(err, "signing %s", filepath.Base(changesPath))
	}
	return os.WriteFile(changesPath, signed, 0644)
}

func (g *GPGSigner) signFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", filepath.Base(path))
	}
	signed, err := g.ClearSign(unwrapClearsigned(data))
	if err != nil {
		return errors.Wrapf(err, "signing %s", filepath.Base(path))
	}
	return os.WriteFile(path, signed, 0644)
}

func unwrapClearsigned(data []byte) []byte {
	if block, _ := clearsign.Decode(data); block != nil {
		return block.Plaintext
	}
	return data
}

// rewriteChecksums updates the size and digest columns of every file list
// line naming name.
func rewriteChecksums(changes []byte, name string, fh FileHash) []byte {
	lines := strings.Split(string(changes), "\n")
	field := ""
	for i, line := range lines {
		if line != "" && line[0] != ' ' && line[0] != '\t' {
			if key, _, ok := strings.Cut(line, ":"); ok {
				field = strings.ToLower(strings.TrimSpace(key))
			}
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 || parts[len(parts)-1] != name {
			continue
		}
		switch field {
		case "files":
			parts[0] = fh.MD5
		case "checksums-sha1":
			parts[0] = fh.SHA1
		case "checksums-sha256":
			parts[0] = fh.SHA256
		default:
			continue
		}
		parts[1] = strconv.FormatInt(fh.Size, 10)
		lines[i] = " " + strings.Join(parts, " ")
	}
	return []byte(strings.Join(lines, "\n"))
}
