package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	ModelVersion string `json:"modelVersion"`
}

func textRequest(prompt string) generateRequest {
	return generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
		},
	}
}

// frameRequest inlines every frame after the prompt, in capture order.
func frameRequest(prompt string, frames []Frame) (generateRequest, error) {
	req := textRequest(prompt)
	parts := req.Contents[0].Parts
	for _, f := range frames {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return req, fmt.Errorf("read frame %s: %w", f.Path, err)
		}
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: mimeTypeFor(f.Path),
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
	}
	req.Contents[0].Parts = parts
	return req, nil
}

func mimeTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "image/jpeg"
}

// extractText joins the text parts of the first candidate. An envelope that
// does not decode is returned verbatim so the caller's validator reports it.
func extractText(body []byte) (string, string) {
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return string(body), ""
	}
	if len(resp.Candidates) == 0 {
		return "", resp.ModelVersion
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), resp.ModelVersion
}
