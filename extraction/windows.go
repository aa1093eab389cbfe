package extraction

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/blueprint/core"
)

const (
	// DefaultWindowSize bounds the bytes of page text sent per request.
	DefaultWindowSize = 30000

	// DefaultMinPageText is the shortest trimmed page text worth extracting.
	DefaultMinPageText = 50
)

// Window is a run of consecutive page text sent in one extraction request.
type Window struct {
	Index   int
	Pages   []int
	Content string
}

// Windows packs pages into windows of at most size bytes of page text.
// Pages shorter than minText are skipped; a page longer than size is split
// across several windows.
func Windows(pages []core.Page, size, minText int) []Window {
	if size <= 0 {
		size = DefaultWindowSize
	}

	var (
		out  []Window
		cur  strings.Builder
		nums []int
		used int
	)
	flush := func() {
		if len(nums) == 0 {
			return
		}
		out = append(out, Window{Index: len(out), Pages: nums, Content: cur.String()})
		cur.Reset()
		nums = nil
		used = 0
	}
	add := func(number int, text string, part int) {
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		if part > 0 {
			fmt.Fprintf(&cur, "--- Page %d (continued) ---\n", number)
		} else {
			fmt.Fprintf(&cur, "--- Page %d ---\n", number)
		}
		cur.WriteString(text)
		if len(nums) == 0 || nums[len(nums)-1] != number {
			nums = append(nums, number)
		}
		used += len(text)
	}

	for _, p := range pages {
		text := strings.TrimSpace(p.Text)
		if len(text) == 0 || len(text) < minText {
			continue
		}
		if used > 0 && used+len(text) > size {
			flush()
		}
		for part := 0; len(text) > 0; part++ {
			n := min(len(text), size-used)
			for n < len(text) && n > 0 && !utf8.RuneStart(text[n]) {
				n--
			}
			if n == 0 {
				if used > 0 {
					flush()
					continue
				}
				_, n = utf8.DecodeRuneInString(text)
			}
			add(p.Number, text[:n], part)
			text = text[n:]
			if len(text) > 0 {
				flush()
			}
		}
	}
	flush()
	return out
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
