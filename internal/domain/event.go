package domain

// EventKind is the upstream message lifecycle verb.
type EventKind string

const (
	EventCreate EventKind = "CREATE"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"
)

// Attachment is an uploaded file referenced by an upstream message.
type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// EmbedImage is the image block inside an embed.
type EmbedImage struct {
	URL string `json:"url"`
}

// EmbedFooter carries the original command echoed back by the bot.
type EmbedFooter struct {
	Text string `json:"text"`
}

// Embed is one rich block attached to an upstream message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EventRecord is one decoded chat event pushed by the transport. The
// platform issues no job ids; Content and the embed/attachment shapes
// are all the correlator has to join on.
type EventRecord struct {
	Kind            EventKind    `json:"kind"`
	AuthorIsBot     bool         `json:"authorIsBot"`
	Content         string       `json:"content"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Embeds          []Embed      `json:"embeds,omitempty"`
	InteractionName string       `json:"interactionName,omitempty"`
	MessageID       string       `json:"messageId"`
	MessageHash     string       `json:"messageHash,omitempty"`
	Flags           int          `json:"flags,omitempty"`
	InstanceID      string       `json:"instanceId,omitempty"`
}

// FirstImageURL returns the first attachment or embed image URL, or "".
func (e *EventRecord) FirstImageURL() string {
	if len(e.Attachments) > 0 && e.Attachments[0].URL != "" {
		return e.Attachments[0].URL
	}
	for _, em := range e.Embeds {
		if em.Image != nil && em.Image.URL != "" {
			return em.Image.URL
		}
	}
	return ""
}

// HasImage reports whether the event carries any image payload.
func (e *EventRecord) HasImage() bool { return e.FirstImageURL() != "" }
