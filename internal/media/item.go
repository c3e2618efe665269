// SPDX-License-Identifier: MIT

package media

// Kind is the tagged variant discriminator for a resolved media item.
type Kind string

const (
	KindVideo     Kind = "video"
	KindImage     Kind = "image"
	KindAudio     Kind = "audio"
	KindThumbnail Kind = "thumbnail"
)

// Item is one directly fetchable media URL produced by a resolver.
type Item struct {
	URL               string `json:"url"`
	Kind              Kind   `json:"kind"`
	SuggestedFilename string `json:"suggestedFilename,omitempty"`
}

// Ext returns the default file extension for the item kind.
func (i Item) Ext() string {
	switch i.Kind {
	case KindVideo:
		return ".mp4"
	case KindAudio:
		return ".m4a"
	default:
		return ".jpg"
	}
}

// Resolution is the resolver output for one post URL.
type Resolution struct {
	Title string `json:"title"`
	Items []Item `json:"items"`

	// NeedsMerge is set when Items carries a separate video and audio
	// stream that must be muxed into a single output file.
	NeedsMerge bool `json:"needsMerge,omitempty"`

	// AvailableQualities lists preset names the source can serve.
	AvailableQualities []string `json:"availableQualities,omitempty"`

	Thumbnail string `json:"thumbnail,omitempty"`
}
