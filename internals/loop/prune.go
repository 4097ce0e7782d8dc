package loop

import "github.com/jadenj13/deskdroid/internals/llm"

// PruneImages keeps the keep most recent images found inside tool-result
// blocks and drops the older ones, leaving their text in place. With keep == 0
// even the image the model has not seen yet is removed. A negative keep
// disables pruning. It returns the number of images removed.
func PruneImages(conv llm.Conversation, keep int) int {
	if keep < 0 {
		return 0
	}
	toRemove := CountImages(conv) - keep
	if toRemove <= 0 {
		return 0
	}

	removed := 0
	for _, m := range conv {
		for _, b := range m.Content {
			if removed == toRemove {
				return removed
			}
			tr, ok := b.(*llm.ToolResultBlock)
			if !ok {
				continue
			}
			kept := make([]llm.ContentBlock, 0, len(tr.Content))
			for _, c := range tr.Content {
				if _, isImage := c.(*llm.ImageBlock); isImage && removed < toRemove {
					removed++
					continue
				}
				kept = append(kept, c)
			}
			tr.Content = kept
		}
	}
	return removed
}

// CountImages returns the number of images inside tool-result blocks.
func CountImages(conv llm.Conversation) int {
	n := 0
	for _, m := range conv {
		for _, b := range m.Content {
			tr, ok := b.(*llm.ToolResultBlock)
			if !ok {
				continue
			}
			for _, c := range tr.Content {
				if _, isImage := c.(*llm.ImageBlock); isImage {
					n++
				}
			}
		}
	}
	return n
}
