package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseReply normalizes raw model output. A JSON object carrying a "text"
// field is kept byte for byte; anything else is wrapped as {"text": output}.
// Markdown code fences around the output are stripped first.
func ParseReply(output string) (*Reply, error) {
	out := stripFences(strings.TrimSpace(output))
	if out == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrGeneration)
	}

	var probe struct {
		Text     *string         `json:"text"`
		FileTree json.RawMessage `json:"fileTree"`
	}
	if err := json.Unmarshal([]byte(out), &probe); err == nil && probe.Text != nil {
		r := &Reply{Text: *probe.Text, Raw: []byte(out)}
		if len(probe.FileTree) > 0 && !bytes.Equal(probe.FileTree, []byte("null")) {
			r.FileTree = probe.FileTree
		}
		return r, nil
	}

	raw, err := json.Marshal(map[string]string{"text": out})
	if err != nil {
		return nil, fmt.Errorf("%w: encode reply: %v", ErrGeneration, err)
	}
	return &Reply{Text: out, Raw: raw}, nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string (e.g. "json") up to the first newline.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
