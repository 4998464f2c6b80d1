package memory

import (
	"regexp"
	"strings"
)

var (
	uuidRe = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	urlRe  = regexp.MustCompile(`https?://[^\s"'<>)]+`)
)

// imageExtensions are the file suffixes treated as images when a URL
// lacks an "image" keyword.
var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".svg"}

// ExtractEntities scans messages for identifiers worth carrying through
// summarization. UUID-shaped tokens are categorized by which keyword
// ("draft", "batch", "product", in that priority order) co-occurs in the
// same message text; UUIDs with no co-occurring keyword are dropped.
// URL-shaped tokens count as images when the URL mentions "image" or
// ends in a common image extension. Identifier lists attached via
// message metadata are merged in directly, bypassing the heuristics.
//
// This is a deliberate keyword-proximity heuristic, not entity
// recognition: it trades precision for zero model calls.
func ExtractEntities(messages []Message) Entities {
	var ents Entities
	for _, m := range messages {
		lower := strings.ToLower(m.Content)

		for _, id := range uuidRe.FindAllString(m.Content, -1) {
			id = strings.ToLower(id)
			switch {
			case strings.Contains(lower, "draft"):
				ents.DraftIDs = appendUnique(ents.DraftIDs, id)
			case strings.Contains(lower, "batch"):
				ents.BatchIDs = appendUnique(ents.BatchIDs, id)
			case strings.Contains(lower, "product"):
				ents.ProductIDs = appendUnique(ents.ProductIDs, id)
			}
		}

		for _, u := range urlRe.FindAllString(m.Content, -1) {
			if isImageURL(u) {
				addImageURL(&ents, u)
			}
		}

		if m.Meta != nil {
			ents.ProductIDs = appendUnique(ents.ProductIDs, m.Meta.ProductIDs...)
			ents.DraftIDs = appendUnique(ents.DraftIDs, m.Meta.DraftIDs...)
			ents.BatchIDs = appendUnique(ents.BatchIDs, m.Meta.BatchIDs...)
			for _, u := range m.Meta.ImageURLs {
				addImageURL(&ents, u)
			}
		}
	}
	return ents
}

// addImageURL appends a de-duplicated image URL, honoring the retention
// cap while still counting every distinct URL.
func addImageURL(ents *Entities, u string) {
	if u == "" {
		return
	}
	for _, existing := range ents.ImageURLs {
		if existing == u {
			return
		}
	}
	for _, counted := range ents.overflowImages {
		if counted == u {
			return
		}
	}
	ents.TotalImages++
	if len(ents.ImageURLs) < maxImageURLs {
		ents.ImageURLs = append(ents.ImageURLs, u)
	} else {
		ents.overflowImages = append(ents.overflowImages, u)
	}
}

func isImageURL(u string) bool {
	lower := strings.ToLower(u)
	if strings.Contains(lower, "image") {
		return true
	}
	// Strip query string before checking the extension.
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
