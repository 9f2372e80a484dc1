package config

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint computes the deterministic hash of a configuration structure:
// SHA-256 over the canonical serialization (sorted keys, compact separators,
// floats rounded to 6 decimal places). Identical inputs yield byte-identical
// fingerprints across runs and machines.
func Fingerprint(v map[string]interface{}) (string, error) {
	var sb strings.Builder
	if err := encodeCanonical(&sb, v); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:]), nil
}

// encodeCanonical writes a canonical JSON rendering of v. Only the types that
// a yaml/json decode can produce are accepted; anything else is an error
// rather than a silently unstable serialization.
func encodeCanonical(sb *strings.Builder, v interface{}) error {
	switch x := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if x {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case string:
		data, err := json.Marshal(x)
		if err != nil {
			return err
		}
		sb.Write(data)
	case int:
		sb.WriteString(strconv.Itoa(x))
	case int64:
		sb.WriteString(strconv.FormatInt(x, 10))
	case float64:
		sb.WriteString(formatFloat(x))
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			data, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(data)
			sb.WriteByte(':')
			if err := encodeCanonical(sb, x[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := encodeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		return fmt.Errorf("unsupported config value type %T", v)
	}
	return nil
}

// formatFloat rounds to 6 decimal places and renders the shortest exact form,
// so 20.0 and 20 fingerprint identically.
func formatFloat(f float64) string {
	r := math.Round(f*1e6) / 1e6
	if r == math.Trunc(r) && math.Abs(r) < 1e15 {
		return strconv.FormatInt(int64(r), 10)
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// SHA1File hashes a file's contents, used to tie manifest rows to the exact
// receptor the docking stage saw.
func SHA1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
