package extract

import "strings"

// Chunk splits text into pieces of at most maxChars, preferring paragraph
// then word boundaries. Consecutive chunks share up to overlap characters.
func Chunk(text string, maxChars, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = 0
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		c := strings.TrimSpace(cur.String())
		if c == "" {
			return
		}
		chunks = append(chunks, c)
		cur.Reset()
		if overlap > 0 && len(c) > overlap {
			tail := c[len(c)-overlap:]
			if i := strings.IndexByte(tail, ' '); i >= 0 {
				tail = tail[i+1:]
			}
			cur.WriteString(tail)
		}
	}
	for _, para := range strings.Split(text, "\n\n") {
		for _, word := range strings.Fields(para) {
			for len(word) > maxChars {
				flush()
				chunks = append(chunks, word[:maxChars])
				word = word[maxChars:]
			}
			if cur.Len() > 0 && cur.Len()+1+len(word) > maxChars {
				flush()
				if cur.Len()+1+len(word) > maxChars {
					cur.Reset()
				}
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(word)
		}
		if cur.Len() > 0 && cur.Len() < maxChars-1 {
			cur.WriteString("\n\n")
		}
	}
	if c := strings.TrimSpace(cur.String()); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}
