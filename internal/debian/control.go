// Package debian parses Debian source control (.dsc) files and versions.
package debian

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
)

const (
	clearsignHeader    = "-----BEGIN PGP SIGNED MESSAGE-----"
	clearsignSignature = "-----BEGIN PGP SIGNATURE-----"
)

// Paragraph is a single deb822 paragraph. Keys are stored as written;
// lookups are case-insensitive.
type Paragraph map[string]string

// Get returns the value of a field, case-insensitively
func (p Paragraph) Get(key string) string {
	if v, ok := p[key]; ok {
		return v
	}
	for k, v := range p {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ParseControl parses the first paragraph of a deb822 control file. An
// OpenPGP clearsigned wrapper, as found around most .dsc files, is removed.
func ParseControl(data []byte) (Paragraph, error) {
	if block, _ := clearsign.Decode(data); block != nil {
		data = block.Plaintext
	} else if bytes.HasPrefix(bytes.TrimSpace(data), []byte(clearsignHeader)) {
		// Armor that does not decode still wraps a readable message
		data = stripClearsign(data)
	}

	para := make(Paragraph)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var currentKey string
	var currentValue strings.Builder

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		// Comments are not part of the data
		if strings.HasPrefix(line, "#") {
			continue
		}

		// Empty line = end of paragraph
		if strings.TrimSpace(line) == "" {
			if currentKey != "" || len(para) > 0 {
				break
			}
			continue
		}

		// Handle continuation lines (start with space)
		if line[0] == ' ' || line[0] == '\t' {
			currentValue.WriteString("\n")
			cont := strings.TrimSpace(line)
			if cont != "." {
				currentValue.WriteString(cont)
			}
			continue
		}

		// Save previous key-value pair
		if currentKey != "" {
			para[currentKey] = currentValue.String()
		}

		// Parse new key-value pair
		key, value, found := strings.Cut(line, ":")
		if !found {
			currentKey = ""
			continue
		}
		currentKey = strings.TrimSpace(key)
		currentValue.Reset()
		currentValue.WriteString(strings.TrimSpace(value))
	}

	// Save last key-value pair
	if currentKey != "" {
		para[currentKey] = currentValue.String()
	}

	return para, scanner.Err()
}

// stripClearsign extracts the dash-unescaped message of a clearsigned text
func stripClearsign(data []byte) []byte {
	var out bytes.Buffer
	inHeader, inBody := false, false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == clearsignHeader:
			inHeader = true
		case inHeader:
			// Armor headers end at the first blank line
			if line == "" {
				inHeader, inBody = false, true
			}
		case line == clearsignSignature:
			return out.Bytes()
		case inBody:
			out.WriteString(strings.TrimPrefix(line, "- "))
			out.WriteByte('\n')
		}
	}
	return out.Bytes()
}
