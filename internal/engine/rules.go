package engine

import (
	"regexp"
	"strings"
)

// The upstream bot issues no job ids; its free text is the only join
// key. Each action family keeps an ordered pattern list, most specific
// first, because the shapes overlap (a reroll completion reuses the
// plain "by <@user> (quality)" shape, variations add a mode marker).
var (
	// **prompt** - <@user> (Waiting to start)
	reWaitingStart = regexp.MustCompile(`\*\*(.*?)\*\* - <@\d+> \(Waiting to start\)`)

	// **prompt** - <@user> (31%) (fast)
	reProgress = regexp.MustCompile(`\*\*(.*?)\*\* - <@\d+> \((\d+)%\) \((.*?)\)`)

	// **prompt** - Image #2 <@user>
	reUpscaleImage = regexp.MustCompile(`\*\*(.*?)\*\* - Image #(\d+) <@\d+>`)

	// **prompt** - Upscaled (Beta) by <@user> (fast)
	reUpscaledMode = regexp.MustCompile(`\*\*(.*?)\*\* - Upscaled \(.*?\) by <@\d+> \((.*?)\)`)

	// **prompt** - Upscaled by <@user> (fast)
	reUpscaled = regexp.MustCompile(`\*\*(.*?)\*\* - Upscaled by <@\d+> \((.*?)\)`)

	// **prompt** - Variations (Strong) by <@user> (fast)
	reVariationsMode = regexp.MustCompile(`\*\*(.*?)\*\* - Variations \(.*?\) by <@\d+> \((.*?)\)`)

	// **prompt** - Variations by <@user> (fast)
	reVariations = regexp.MustCompile(`\*\*(.*?)\*\* - Variations by <@\d+> \((.*?)\)`)

	// **prompt** - <@user> (fast); the plain completion shape shared by
	// imagine, reroll and blend grids.
	reCompletion = regexp.MustCompile(`\*\*(.*?)\*\* - <@\d+> \((.*?)\)`)

	// bold prompt echoed inside failure embeds
	reEmbedPrompt = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// parsed is the (subject, qualityOrSeed, index) triple a content
// pattern extracts.
type parsed struct {
	prompt  string
	quality string
	index   int
}

// parseContent applies one pattern and extracts the subject text plus
// the trailing quality/seed group when present.
func parseContent(content string, re *regexp.Regexp) *parsed {
	m := re.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	p := &parsed{prompt: strings.TrimSpace(m[1])}
	if len(m) > 2 {
		p.quality = m[2]
	}
	return p
}

// parseProgress extracts the percentage from a progress update.
func parseProgress(content string) (prompt, percent string, ok bool) {
	m := reProgress.FindStringSubmatch(content)
	if m == nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), m[2] + "%", true
}

// parseUpscaleImage extracts the subject and grid index from the
// "Image #n" upscale completion shape.
func parseUpscaleImage(content string) (prompt string, index int, ok bool) {
	m := reUpscaleImage.FindStringSubmatch(content)
	if m == nil {
		return "", 0, false
	}
	idx := 0
	for _, r := range m[2] {
		idx = idx*10 + int(r-'0')
	}
	return strings.TrimSpace(m[1]), idx, true
}

// parseCompletion matches the plain completion shape, rejecting the
// progress and waiting variants that share its outline.
func parseCompletion(content string) *parsed {
	if reWaitingStart.MatchString(content) || reProgress.MatchString(content) {
		return nil
	}
	return parseContent(content, reCompletion)
}

// embedPrompt pulls the bold subject text out of a failure embed.
func embedPrompt(description string) string {
	m := reEmbedPrompt.FindStringSubmatch(description)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// cdnFilename returns the last path segment of a CDN URL, extension
// included, with any query string dropped.
func cdnFilename(rawURL string) string {
	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// filenameBase returns the CDN filename without directories or
// extension; it is how describe reroll results are joined back to the
// synthetic "/describe <file> R" description.
func filenameBase(rawURL string) string {
	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "."); i > 0 {
		s = s[:i]
	}
	return s
}

// hashFromFilename extracts the trailing job-hash segment of an
// upstream attachment name like "prompt_word_<hash>.png".
func hashFromFilename(filename string) string {
	base := filenameBase(filename)
	if i := strings.LastIndex(base, "_"); i >= 0 {
		return base[i+1:]
	}
	return ""
}
