package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jarvis-run/turnengine/internal/tool"
)

const (
	webfetchDefaultTimeout = 30 * time.Second
	webfetchMaxTimeout     = 120 * time.Second
	webfetchMaxResponse    = 5 * 1024 * 1024
	webfetchMaxRedirects   = 10
)

// WebFetchTool implements webfetch(url, format, timeout?): upgrades
// http to https, rejects non-https, guards against blind cross-host
// redirects, and renders text/markdown/html.
type WebFetchTool struct {
	// Transport overrides the client's RoundTripper; nil uses
	// http.DefaultTransport.
	Transport http.RoundTripper
}

func NewWebFetchTool() *WebFetchTool { return &WebFetchTool{} }

type webfetchArgs struct {
	URL     string `json:"url"`
	Format  string `json:"format"`
	Timeout int    `json:"timeout,omitempty"`
}

func (t *WebFetchTool) Spec() tool.Spec {
	return tool.Spec{
		Name: "webfetch",
		Description: `Fetches content from a specified URL.

Usage:
- The URL must be a fully-formed valid URL.
- HTTP URLs will be automatically upgraded to HTTPS.
- Returns content in the specified format (text, markdown, or html).
- Content longer than 50000 characters is truncated.`,
		Schema: map[string]any{
			"type":     "object",
			"required": []string{"url", "format"},
			"properties": map[string]any{
				"url": map[string]any{"type": "string", "description": "The URL to fetch content from"},
				"format": map[string]any{
					"type":        "string",
					"enum":        []string{"text", "markdown", "html"},
					"description": "The format to return the content in",
				},
				"timeout": map[string]any{"type": "number", "description": "Optional timeout in seconds (max 120)"},
			},
		},
	}
}

func (t *WebFetchTool) Preview(args json.RawMessage) string {
	var a webfetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return ""
	}
	return a.URL
}

func (t *WebFetchTool) Execute(ctx context.Context, tc *tool.Context, args json.RawMessage) (tool.Output, error) {
	var a webfetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Output{}, tool.NewError(tool.ErrValidation, err.Error())
	}
	if a.Format == "" {
		a.Format = "text"
	}

	u, err := url.Parse(a.URL)
	if err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrValidation, "Invalid URL: %v", err)
	}
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	if u.Scheme != "https" {
		return tool.Output{}, tool.Errorf(tool.ErrValidation, "Only HTTPS URLs are supported, got: %s", u.Scheme)
	}

	timeout := webfetchDefaultTimeout
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Second
	}
	if timeout > webfetchMaxTimeout {
		timeout = webfetchMaxTimeout
	}

	requestHost := u.Hostname()

	client := &http.Client{
		Timeout:   timeout,
		Transport: t.Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= webfetchMaxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "failed to build request: %v", err)
	}
	req.Header.Set("User-Agent", "turnengine/0.1")

	resp, err := client.Do(req)
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Request timed out after %ds", int(timeout.Seconds()))
		}
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Request failed: %v", err)
	}
	defer resp.Body.Close()

	if out, guarded := crossHostRedirectOutput(requestHost, u.String(), resp.Request.URL); guarded {
		return out, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	limited := io.LimitReader(resp.Body, webfetchMaxResponse+1)
	bodyBytes, err := io.ReadAll(limited)
	if err != nil {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Failed to read response: %v", err)
	}
	if len(bodyBytes) > webfetchMaxResponse {
		return tool.Output{}, tool.Errorf(tool.ErrExecutionFailed, "Response too large: exceeds %d bytes", webfetchMaxResponse)
	}

	text := string(bodyBytes)
	isHTML := strings.Contains(contentType, "html")

	var content string
	switch a.Format {
	case "html":
		content = text
	case "markdown":
		if isHTML {
			content = htmlToMarkdown(text)
		} else {
			content = text
		}
	default:
		if isHTML {
			content = htmlToText(text)
		} else {
			content = text
		}
	}

	content, truncated := truncateContent(content, 50000)

	return tool.Output{
		Title:  fmt.Sprintf("Fetched %s", u.String()),
		Output: content,
		Metadata: map[string]any{
			"url":          u.String(),
			"content_type": contentType,
			"size":         len(bodyBytes),
			"truncated":    truncated,
		},
	}, nil
}

// crossHostRedirectOutput reports whether finalURL's host differs from
// requestHost, and if so builds the guard Output telling the caller to
// re-request explicitly rather than silently following the redirect's
// body through.
func crossHostRedirectOutput(requestHost, originalURL string, finalURL *url.URL) (tool.Output, bool) {
	if finalURL.Hostname() == requestHost {
		return tool.Output{}, false
	}
	return tool.Output{
		Title:  fmt.Sprintf("Redirect to %s", finalURL.String()),
		Output: fmt.Sprintf("The URL redirected to a different host: %s\nPlease make a new request with this URL.", finalURL.String()),
		Metadata: map[string]any{
			"redirect":     true,
			"original_url": originalURL,
			"final_url":    finalURL.String(),
		},
	}, true
}

var htmlEntities = map[string]rune{
	"&nbsp;": ' ', "&#160;": ' ',
	"&lt;": '<', "&gt;": '>', "&amp;": '&', "&quot;": '"',
}

// htmlToText strips tags, drops <script>/<style> bodies, expands the
// fixed entity set, and collapses whitespace runs and blank-line runs
// (<=2 consecutive newlines).
func htmlToText(html string) string {
	return collapseBlankLines(stripHTML(html, false))
}

// htmlToMarkdown applies a small fixed tag->markdown mapping on top of
// the same tag/entity handling as htmlToText. Whitespace runs are kept
// as they are; only blank-line runs are collapsed.
func htmlToMarkdown(html string) string {
	return collapseBlankLines(stripHTML(html, true))
}

func stripHTML(html string, markdown bool) string {
	var sb strings.Builder
	var currentTag strings.Builder
	inTag := false
	inScript := false
	inStyle := false
	lastWasSpace := false
	listDepth := 0

	htmlLower := strings.ToLower(html)
	runes := []rune(html)
	n := len(runes)
	i := 0
	for i < n {
		ch := runes[i]

		if ch == '<' {
			inTag = true
			currentTag.Reset()
			if markdown {
				i++
				continue
			}
			remaining := htmlLower[byteOffset(runes, i):]
			switch {
			case strings.HasPrefix(remaining, "<script"):
				inScript = true
			case strings.HasPrefix(remaining, "<style"):
				inStyle = true
			case strings.HasPrefix(remaining, "</script"):
				inScript = false
			case strings.HasPrefix(remaining, "</style"):
				inStyle = false
			}
			i++
			continue
		}

		if inTag {
			if markdown {
				if ch == '>' {
					inTag = false
					applyMarkdownTag(&sb, currentTag.String(), &inScript, &inStyle, &listDepth)
					i++
					continue
				}
				currentTag.WriteRune(ch)
				i++
				continue
			}
			if ch == '>' {
				inTag = false
			}
			i++
			continue
		}

		if inScript || inStyle {
			i++
			continue
		}

		if ch == '&' {
			remaining := string(runes[i:min(i+10, n)])
			matched := false
			for ent, repl := range htmlEntities {
				if strings.HasPrefix(remaining, ent) {
					sb.WriteRune(repl)
					i += len([]rune(ent))
					lastWasSpace = repl == ' '
					matched = true
					break
				}
			}
			if matched {
				continue
			}
		}

		if markdown {
			sb.WriteRune(ch)
			i++
			continue
		}

		if isWhitespaceRune(ch) {
			if !lastWasSpace {
				if ch == '\n' {
					sb.WriteRune('\n')
				} else {
					sb.WriteRune(' ')
				}
				lastWasSpace = true
			}
		} else {
			sb.WriteRune(ch)
			lastWasSpace = false
		}
		i++
	}

	return strings.TrimSpace(sb.String())
}

func applyMarkdownTag(sb *strings.Builder, tag string, inScript, inStyle *bool, listDepth *int) {
	tag = strings.ToLower(tag)
	switch {
	case strings.HasPrefix(tag, "script"):
		*inScript = true
	case tag == "/script":
		*inScript = false
	case strings.HasPrefix(tag, "style"):
		*inStyle = true
	case tag == "/style":
		*inStyle = false
	case strings.HasPrefix(tag, "code"):
		sb.WriteByte('`')
	case tag == "/code":
		sb.WriteByte('`')
	case strings.HasPrefix(tag, "pre"):
		sb.WriteString("\n```\n")
	case tag == "/pre":
		sb.WriteString("\n```\n")
	case strings.HasPrefix(tag, "h1"):
		sb.WriteString("\n# ")
	case strings.HasPrefix(tag, "h2"):
		sb.WriteString("\n## ")
	case strings.HasPrefix(tag, "h3"):
		sb.WriteString("\n### ")
	case strings.HasPrefix(tag, "h4"):
		sb.WriteString("\n#### ")
	case strings.HasPrefix(tag, "h5"), strings.HasPrefix(tag, "h6"):
		sb.WriteString("\n##### ")
	case tag == "/h1", tag == "/h2", tag == "/h3", tag == "/h4", tag == "/h5", tag == "/h6":
		sb.WriteByte('\n')
	case strings.HasPrefix(tag, "p"), tag == "br", tag == "br/":
		sb.WriteString("\n\n")
	case tag == "/p":
		sb.WriteByte('\n')
	case strings.HasPrefix(tag, "strong"), strings.HasPrefix(tag, "b "), tag == "b":
		sb.WriteString("**")
	case tag == "/strong", tag == "/b":
		sb.WriteString("**")
	case strings.HasPrefix(tag, "em"), strings.HasPrefix(tag, "i "), tag == "i":
		sb.WriteByte('*')
	case tag == "/em", tag == "/i":
		sb.WriteByte('*')
	case strings.HasPrefix(tag, "ul"), strings.HasPrefix(tag, "ol"):
		*listDepth++
		sb.WriteByte('\n')
	case tag == "/ul", tag == "/ol":
		if *listDepth > 0 {
			*listDepth--
		}
		sb.WriteByte('\n')
	case strings.HasPrefix(tag, "li"):
		sb.WriteByte('\n')
		for i := 0; i < *listDepth-1; i++ {
			sb.WriteString("  ")
		}
		sb.WriteString("- ")
	case tag == "/li":
	case strings.HasPrefix(tag, "a "):
		sb.WriteByte('[')
	case tag == "/a":
		sb.WriteString("](link)")
	}
}

func collapseBlankLines(s string) string {
	var sb strings.Builder
	newlineCount := 0
	for _, ch := range s {
		if ch == '\n' {
			newlineCount++
			if newlineCount <= 2 {
				sb.WriteRune(ch)
			}
		} else {
			newlineCount = 0
			sb.WriteRune(ch)
		}
	}
	return strings.TrimSpace(sb.String())
}

func isWhitespaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func byteOffset(runes []rune, idx int) int {
	return len(string(runes[:idx]))
}

func truncateContent(content string, maxLen int) (string, bool) {
	if len(content) <= maxLen {
		return content, false
	}
	return fmt.Sprintf("%s\n\n... [content truncated, showing first %d chars of %d] ...", content[:maxLen], maxLen, len(content)), true
}
