// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lunekit/lunekit/internal/fsutil"
)

// LuaurcFileName is the Luau configuration file that carries require aliases.
const LuaurcFileName = ".luaurc"

// ReadLuaurcAliases returns the "aliases" object of dir/.luaurc. A missing
// file yields an empty map.
func ReadLuaurcAliases(dir string) (map[string]string, error) {
	doc, err := readLuaurc(filepath.Join(dir, LuaurcFileName))
	if err != nil {
		return nil, err
	}
	aliases := map[string]string{}
	if raw, ok := doc["aliases"]; ok {
		if err := json.Unmarshal(raw, &aliases); err != nil {
			return nil, fmt.Errorf("%s: aliases: %w", LuaurcFileName, err)
		}
	}
	return aliases, nil
}

// WriteLuaurcAliases replaces the "aliases" object of dir/.luaurc, keeping
// every other key. Alias names are stored without a leading '@'.
func WriteLuaurcAliases(dir string, aliases map[string]string) error {
	out, err := RenderLuaurcAliases(dir, aliases)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, LuaurcFileName), out, 0o644)
}

// RenderLuaurcAliases returns the content WriteLuaurcAliases would write.
func RenderLuaurcAliases(dir string, aliases map[string]string) ([]byte, error) {
	doc, err := readLuaurc(filepath.Join(dir, LuaurcFileName))
	if err != nil {
		return nil, err
	}

	clean := make(map[string]string, len(aliases))
	for name, target := range aliases {
		clean[strings.TrimPrefix(name, "@")] = filepath.ToSlash(target)
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("encode aliases: %w", err)
	}
	doc["aliases"] = raw

	// encoding/json sorts map keys, so the output is stable.
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", LuaurcFileName, err)
	}
	return append(out, '\n'), nil
}

func readLuaurc(p string) (map[string]json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return nil, fmt.Errorf("read %s: %w", LuaurcFileName, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return doc, nil
}
