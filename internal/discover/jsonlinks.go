package discover

import "strings"

// DocLink pairs a document URL found inside a JSON payload with the
// concatenated label text describing it.
type DocLink struct {
	URL   string
	Label string
}

// urlKeys are the object keys treated as document URLs, in preference order.
var urlKeys = []string{"url", "documenturl", "downloadurl", "fileurl"}

// labelKeys are the object keys whose values describe a document, in the
// order they are concatenated into the label.
var labelKeys = []string{"documenttype", "documenttitle", "title", "type", "name"}

// CollectDocLinks walks an arbitrary decoded JSON structure and emits a
// DocLink for every object that carries both a URL-like key and at least
// one label-like key.
func CollectDocLinks(v any) []DocLink {
	var out []DocLink
	collectDocLinks(v, &out)
	return out
}

func collectDocLinks(v any, out *[]DocLink) {
	switch node := v.(type) {
	case map[string]any:
		if link, ok := docLinkFrom(node); ok {
			*out = append(*out, link)
		}
		for _, child := range node {
			collectDocLinks(child, out)
		}
	case []any:
		for _, child := range node {
			collectDocLinks(child, out)
		}
	}
}

func docLinkFrom(node map[string]any) (DocLink, bool) {
	// Lower-case the keys once; JSON objects are small here.
	flat := make(map[string]string, len(node))
	for key, value := range node {
		if text, ok := value.(string); ok && text != "" {
			flat[strings.ToLower(key)] = text
		}
	}
	var docURL string
	for _, key := range urlKeys {
		if text, ok := flat[key]; ok {
			docURL = text
			break
		}
	}
	if docURL == "" {
		return DocLink{}, false
	}
	var labels []string
	for _, key := range labelKeys {
		if text, ok := flat[key]; ok {
			labels = append(labels, text)
		}
	}
	if len(labels) == 0 {
		return DocLink{}, false
	}
	return DocLink{URL: docURL, Label: strings.Join(labels, " ")}, true
}
