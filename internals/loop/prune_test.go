package loop

import (
	"fmt"
	"testing"

	"github.com/jadenj13/deskdroid/internals/llm"
)

// imageConversation builds n tool turns, each answered with a caption and an
// image whose payload is its index.
func imageConversation(n int) llm.Conversation {
	conv := llm.Conversation{llm.NewUserText("start")}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("tu_%d", i)
		conv = append(conv,
			llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{toolUse(id, "screenshot", `{}`)}},
			llm.Message{Role: llm.RoleUser, Content: []llm.ContentBlock{&llm.ToolResultBlock{
				ToolUseID: id,
				Content: []llm.ContentBlock{
					llm.NewTextBlock(fmt.Sprintf("caption %d", i)),
					llm.NewImageBlock("image/png", []byte{byte(i)}),
				},
			}}},
		)
	}
	return conv
}

func remainingImages(conv llm.Conversation) []byte {
	var out []byte
	for _, m := range conv {
		for _, b := range m.Content {
			if tr, ok := b.(*llm.ToolResultBlock); ok {
				for _, c := range tr.Content {
					if img, ok := c.(*llm.ImageBlock); ok {
						out = append(out, img.Data[0])
					}
				}
			}
		}
	}
	return out
}

func captions(conv llm.Conversation) int {
	n := 0
	for _, m := range conv {
		for _, b := range m.Content {
			if tr, ok := b.(*llm.ToolResultBlock); ok {
				for _, c := range tr.Content {
					if _, ok := c.(*llm.TextBlock); ok {
						n++
					}
				}
			}
		}
	}
	return n
}

func TestPruneImagesKeepsMostRecent(t *testing.T) {
	tests := []struct {
		total, keep int
		want        []byte
	}{
		{5, 2, []byte{3, 4}},
		{5, 1, []byte{4}},
		{5, 0, nil},
		{3, 3, []byte{0, 1, 2}},
		{3, 10, []byte{0, 1, 2}},
		{3, -1, []byte{0, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_keep_%d", tt.total, tt.keep), func(t *testing.T) {
			conv := imageConversation(tt.total)
			removed := PruneImages(conv, tt.keep)

			got := remainingImages(conv)
			if string(got) != string(tt.want) {
				t.Errorf("remaining = %v, want %v", got, tt.want)
			}
			if removed != tt.total-len(tt.want) {
				t.Errorf("removed = %d", removed)
			}
			if captions(conv) != tt.total {
				t.Errorf("text was pruned: %d captions left", captions(conv))
			}
			if len(conv) != 1+2*tt.total {
				t.Errorf("messages changed: %d", len(conv))
			}
		})
	}
}

func TestPruneImagesIsIdempotent(t *testing.T) {
	conv := imageConversation(6)
	PruneImages(conv, 2)
	first := remainingImages(conv)

	if n := PruneImages(conv, 2); n != 0 {
		t.Errorf("second prune removed %d", n)
	}
	if string(remainingImages(conv)) != string(first) {
		t.Error("second prune changed the conversation")
	}
}

func TestPruneIgnoresImagesOutsideToolResults(t *testing.T) {
	conv := llm.Conversation{{Role: llm.RoleUser, Content: []llm.ContentBlock{
		llm.NewTextBlock("look"),
		llm.NewImageBlock("image/png", []byte{9}),
	}}}
	if n := PruneImages(conv, 0); n != 0 {
		t.Errorf("removed %d user images", n)
	}
	if len(conv[0].Content) != 2 {
		t.Error("user image was dropped")
	}
}
