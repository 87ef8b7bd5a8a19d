package article

import "fmt"

// Params is the typed shape of a TaskDefinition.Params map for an
// article-generation task (spec.md §9's redesign flag: "each handler
// defines a typed parameter schema ... failing fast on malformed params
// produces failed, not a crash").
type Params struct {
	Keywords []string
	Language string // "zh-CN" or "en-US"
	Styles   []string
}

// ParamsError wraps a malformed params map.
type ParamsError struct {
	Reason string
}

func (e *ParamsError) Error() string { return "article: invalid params: " + e.Reason }

// ParseParams extracts and validates Params from a raw definition params
// map. An empty Styles slice is normalized to a single empty-string
// style, meaning "the default style" -- one article per keyword, not
// zero.
func ParseParams(raw map[string]any) (Params, error) {
	var p Params

	keywordsRaw, ok := raw["keywords"]
	if !ok {
		return p, &ParamsError{Reason: "missing \"keywords\""}
	}
	keywords, err := toStringSlice(keywordsRaw)
	if err != nil {
		return p, &ParamsError{Reason: "keywords: " + err.Error()}
	}
	if len(keywords) == 0 {
		return p, &ParamsError{Reason: "keywords must be a non-empty list"}
	}
	p.Keywords = keywords

	lang, _ := raw["language"].(string)
	switch lang {
	case "", "en-US":
		p.Language = "en-US"
	case "zh-CN":
		p.Language = "zh-CN"
	default:
		return p, &ParamsError{Reason: fmt.Sprintf("unsupported language %q", lang)}
	}

	if stylesRaw, ok := raw["styles"]; ok {
		styles, err := toStringSlice(stylesRaw)
		if err != nil {
			return p, &ParamsError{Reason: "styles: " + err.Error()}
		}
		p.Styles = styles
	}
	if len(p.Styles) == 0 {
		p.Styles = []string{""}
	}

	return p, nil
}

func toStringSlice(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string element, got %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}
